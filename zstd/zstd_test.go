package zstd_test

import (
	"bytes"
	"io"
	"io/ioutil"
	"os/exec"
	"testing"

	"github.com/srtlabond/bond/zstd"
)

// TestReader compresses data with the real zstd binary (independently of
// this package, which has no writer) and
// checks that NewReader decompresses it back correctly.
func TestReader(t *testing.T) {
	tmpdir, err := ioutil.TempDir(".", "tmp")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := exec.Command("rm", "-rf", tmpdir).Run(); err != nil {
			t.Fatal(err)
		}
	}()

	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte((i * 37) % 256)
	}

	target := tmpdir + "/test.zst"
	cmd := exec.Command("zstd", "-o", target)
	cmd.Stdin = bytes.NewReader(data)
	if err := cmd.Run(); err != nil {
		t.Skipf("zstd binary unavailable or failed: %v", err)
	}

	read := make([]byte, 20000)
	r := zstd.NewReader(target)
	// Interesting...  Sometimes this requires multiple calls to read.
	n, err := io.ReadAtLeast(r, read, 10000)
	if err != nil {
		t.Error(err)
	}
	if n != 10000 {
		t.Error("Wrong number of bytes", n)
	}

	for i := range data {
		if data[i] != read[i] {
			t.Fatal("Data mismatch at", i)
		}
	}
}
