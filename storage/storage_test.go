package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"drug-analytics/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func TestParseUploadKey(t *testing.T) {
	const id = "3f2b8a9e-1c4d-4e5f-8a6b-7c8d9e0f1a2b"
	tests := []struct {
		key      string
		wantID   string
		wantFile string
		wantErr  bool
	}{
		{key: UploadKey(id, "drugs.csv"), wantID: id, wantFile: "drugs.csv"},
		{key: "uploads/3F2B8A9E-1C4D-4E5F-8A6B-7C8D9E0F1A2B/x.csv", wantID: id, wantFile: "x.csv"},
		{key: "exports/drugs.csv.gz", wantErr: true},
		{key: "uploads/not-a-uuid-but-exactly-36-chars-lo/x.csv", wantErr: true},
		{key: "uploads/" + id + "/nested/x.csv", wantErr: true},
		{key: "uploads/" + id + "/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			gotID, gotFile, err := ParseUploadKey(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q %q", gotID, gotFile)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUploadKey: %v", err)
			}
			if gotID != tt.wantID || gotFile != tt.wantFile {
				t.Errorf("got (%q, %q), want (%q, %q)", gotID, gotFile, tt.wantID, tt.wantFile)
			}
		})
	}
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"drugs.csv":              "drugs.csv",
		"/tmp/drugs.csv":         "drugs.csv",
		`C:\Users\lab\drugs.csv`: "drugs.csv",
		"../../etc/passwd":       "passwd",
		"  spaced.csv  ":         "spaced.csv",
		"":                       "",
		"..":                     "",
		"/":                      "",
	}
	for in, want := range tests {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMemoryBlobStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBlobStore("bucket")

	data := []byte("drug_name,target,efficacy\n")
	if err := m.Put(ctx, "uploads/a/b.csv", data); err != nil {
		t.Fatal(err)
	}
	data[0] = 'X'

	got, err := m.Get(ctx, "uploads/a/b.csv")
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 'd' {
		t.Error("stored blob shares memory with caller")
	}
	if loc := m.Location("uploads/a/b.csv"); loc != "memory://bucket/uploads/a/b.csv" {
		t.Errorf("Location = %q", loc)
	}

	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
	m.Delete("uploads/a/b.csv")
	if _, err := m.Get(ctx, "uploads/a/b.csv"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Get after Delete: %v, want ErrNotFound", err)
	}
}

type fakeS3 struct {
	objects map[string]string
	getErr  error
	putKeys []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = string(b)
	f.putKeys = append(f.putKeys, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3BlobStore(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string]string{}}
	store := NewS3BlobStore(fake, "drug-uploads")

	if err := store.Put(ctx, "uploads/x/y.csv", []byte("a,b,c")); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "uploads/x/y.csv")
	if err != nil || string(got) != "a,b,c" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if loc := store.Location("uploads/x/y.csv"); loc != "s3://drug-uploads/uploads/x/y.csv" {
		t.Errorf("Location = %q", loc)
	}

	if _, err := store.Get(ctx, "uploads/x/missing.csv"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing key: %v, want ErrNotFound", err)
	}

	fake.getErr = &smithy.GenericAPIError{Code: "NotFound", Message: "head miss"}
	if _, err := store.Get(ctx, "uploads/x/y.csv"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("NotFound api error: %v, want ErrNotFound", err)
	}

	fake.getErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	_, err = store.Get(ctx, "uploads/x/y.csv")
	if err == nil || errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("AccessDenied: %v, want non-NotFound error", err)
	}
}
