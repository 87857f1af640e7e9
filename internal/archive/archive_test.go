package archive

import "testing"

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, run, file, want string
	}{
		{prefix: "movid", run: "r1", file: "/out/a_hands.csv.gz", want: "movid/r1/a_hands.csv.gz"},
		{prefix: "", run: "r1", file: "a.jpg", want: "r1/a.jpg"},
		{prefix: "/nested/dir/", run: "r2", file: "/x/y.mp4", want: "nested/dir/r2/y.mp4"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, tt.run, tt.file); got != tt.want {
			t.Errorf("ObjectKey(%q, %q, %q) = %q, want %q", tt.prefix, tt.run, tt.file, got, tt.want)
		}
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a_hands.csv.gz":       "application/gzip",
		"a_hands_labelled.mp4": "video/mp4",
		"a_hands_labelled.jpg": "image/jpeg",
		"notes.txt":            "application/octet-stream",
	}
	for file, want := range tests {
		if got := ContentType(file); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", file, got, want)
		}
	}
}

func TestNewStorage(t *testing.T) {
	if _, err := NewStorage(Config{Bucket: "b"}); err == nil {
		t.Error("missing endpoint accepted")
	}
	s, err := NewStorage(Config{Endpoint: "localhost:9000", Bucket: "artifacts", AccessKey: "k", SecretKey: "s"})
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	if s.bucket != "artifacts" {
		t.Errorf("bucket = %q", s.bucket)
	}
}
