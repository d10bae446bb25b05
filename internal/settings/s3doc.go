package settings

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/linnemanlabs-admin/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

const maxDocumentBytes = 1 << 20

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SignatureVerifier checks a detached signature over a document.
// *cryptoutil.KMSVerifier satisfies it.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

type S3DocumentOptions struct {
	Bucket string
	Key    string

	// Verifier, when set, requires a base64 signature object at Key+".sig"
	// and rejects the document if it does not verify.
	Verifier SignatureVerifier

	// MaxAge bounds how long a loaded document is reused. Defaults to one minute.
	MaxAge time.Duration

	Now func() time.Time
}

// S3Document serves settings from one JSON object shaped
// {"category": {"key": value}}. Values that are JSON strings are returned
// unquoted, anything else is returned as its JSON text.
type S3Document struct {
	client s3API
	opts   S3DocumentOptions

	mu       sync.Mutex
	values   map[string]map[string]string
	digest   string
	loadedAt time.Time
}

func NewS3Document(client s3API, opts S3DocumentOptions) (*S3Document, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("settings document bucket is required")
	}
	if opts.Key == "" {
		return nil, xerrors.New("settings document key is required")
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &S3Document{client: client, opts: opts}, nil
}

func (d *S3Document) GetSetting(ctx context.Context, category, key string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.values == nil || d.opts.Now().Sub(d.loadedAt) >= d.opts.MaxAge {
		if err := d.loadLocked(ctx); err != nil {
			return "", false, err
		}
	}
	v, ok := d.values[category][key]
	return v, ok, nil
}

// Digest is the SHA-256 of the last document loaded, empty before the first load.
func (d *S3Document) Digest() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.digest
}

func (d *S3Document) loadLocked(ctx context.Context) error {
	body, err := d.fetch(ctx, d.opts.Key)
	if err != nil {
		return err
	}

	if d.opts.Verifier != nil {
		sigText, err := d.fetch(ctx, d.opts.Key+".sig")
		if err != nil {
			return xerrors.Wrap(err, "fetch settings document signature")
		}
		sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(sigText)))
		if err != nil {
			return xerrors.Wrap(err, "decode settings document signature")
		}
		if err := d.opts.Verifier.VerifySignature(ctx, body, sig); err != nil {
			return xerrors.Wrapf(err, "verify settings document s3://%s/%s", d.opts.Bucket, d.opts.Key)
		}
	}

	values, err := decodeDocument(body)
	if err != nil {
		return err
	}

	d.values = values
	d.digest = cryptoutil.SHA256Hex(body)
	d.loadedAt = d.opts.Now()
	return nil
}

func (d *S3Document) fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, xerrors.Newf("s3://%s/%s does not exist", d.opts.Bucket, key)
		}
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", d.opts.Bucket, key)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(io.LimitReader(out.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read S3 object s3://%s/%s", d.opts.Bucket, key)
	}
	if len(b) > maxDocumentBytes {
		return nil, xerrors.Newf("s3://%s/%s exceeds %d bytes", d.opts.Bucket, key, maxDocumentBytes)
	}
	return b, nil
}

// decodeDocument flattens {"category": {"key": value}}. JSON strings are
// unquoted; other values keep their JSON text.
func decodeDocument(body []byte) (map[string]map[string]string, error) {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, xerrors.Wrap(err, "decode settings document")
	}
	values := make(map[string]map[string]string, len(raw))
	for cat, kv := range raw {
		values[cat] = make(map[string]string, len(kv))
		for k, v := range kv {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				values[cat][k] = s
				continue
			}
			values[cat][k] = string(v)
		}
	}
	return values, nil
}
