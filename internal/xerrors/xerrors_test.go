package xerrors

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

var errKind = errors.New("storage unavailable")

// New / Newf

func TestNew_ErrorMessage(t *testing.T) {
	err := New("something broke")
	if err.Error() != "something broke" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestNew_HasPC(t *testing.T) {
	err := New("boom")

	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) {
		t.Fatal("New error should carry a PC")
	}
	if hp.PC() == 0 {
		t.Fatal("PC should be non-zero")
	}
}

func TestNewf_FormatsMessage(t *testing.T) {
	err := Newf("no origin %q in distribution %s", "s3-origin", "E123")
	want := `no origin "s3-origin" in distribution E123`
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

// Wrap / Wrapf

func TestWrap_NilReturnsNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Fatal("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Fatal("Wrapf(nil) should return nil")
	}
}

func TestWrap_ErrorMessage(t *testing.T) {
	err := Wrap(errors.New("connection refused"), "list s3://bucket/v1/")

	want := "list s3://bucket/v1/: connection refused"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapf_Unwraps(t *testing.T) {
	err := Wrapf(errSentinel, "step %d", 3)
	if !errors.Is(err, errSentinel) {
		t.Fatal("should unwrap to sentinel")
	}
}

func TestChainedWrap_ErrorMessage(t *testing.T) {
	base := errors.New("eof")
	w1 := Wrap(base, "read file")
	w2 := Wrap(w1, "upload index.html")

	want := "upload index.html: read file: eof"
	if w2.Error() != want {
		t.Fatalf("Error() = %q, want %q", w2.Error(), want)
	}
}

func TestChainedWrap_DistinctPCs(t *testing.T) {
	base := errors.New("root")
	w1 := Wrap(base, "l1")
	w2 := Wrap(w1, "l2")

	pc2 := w2.(*wrap).PC() //nolint:errorlint // testing internal wrap type directly
	pc1 := w1.(*wrap).PC() //nolint:errorlint // testing internal wrap type directly

	if pc1 == 0 || pc2 == 0 {
		t.Fatal("both wraps should have non-zero PCs")
	}
	if pc1 == pc2 {
		t.Fatal("PCs from different call sites should differ")
	}
}

// Mark / Markf

func TestMark_NilReturnsNil(t *testing.T) {
	if Mark(nil, errKind) != nil {
		t.Fatal("Mark(nil) should return nil")
	}
}

func TestMark_NilKindReturnsErr(t *testing.T) {
	if got := Mark(errSentinel, nil); got != errSentinel { //nolint:errorlint // identity
		t.Fatalf("Mark(err, nil) = %v, want err unchanged", got)
	}
}

func TestMark_MatchesKindAndCause(t *testing.T) {
	err := Mark(Wrap(errSentinel, "list"), errKind)

	if !errors.Is(err, errKind) {
		t.Fatal("marked error should match kind")
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("marked error should still match cause")
	}
	if err.Error() != "storage unavailable: list: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestMark_ErrorsAsReachesCause(t *testing.T) {
	cause := &fs.PathError{Op: "open", Path: "index.html", Err: fs.ErrNotExist}
	err := Mark(Wrap(cause, "upload"), errKind)

	var pe *fs.PathError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As should reach the wrapped PathError")
	}
	if pe.Path != "index.html" {
		t.Fatalf("Path = %q", pe.Path)
	}
}

func TestMark_DoesNotStackSameKind(t *testing.T) {
	once := Mark(errSentinel, errKind)
	twice := Mark(once, errKind)

	if twice != once { //nolint:errorlint // identity
		t.Fatal("re-marking with the same kind should return the error unchanged")
	}
	if strings.Count(twice.Error(), "storage unavailable") != 1 {
		t.Fatalf("kind prefix repeated: %q", twice.Error())
	}
}

func TestMarkf_FormatsMessage(t *testing.T) {
	err := Markf(errKind, "bucket %s", "assets")
	if !errors.Is(err, errKind) {
		t.Fatal("Markf should match kind")
	}
	if err.Error() != "storage unavailable: bucket assets" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

// PosOf

func TestPosOf_ReportsCaller(t *testing.T) {
	err := Wrap(errSentinel, "ctx")

	fn, file, line, ok := PosOf(err)
	if !ok {
		t.Fatal("PosOf should find a position")
	}
	if !strings.Contains(fn, "TestPosOf_ReportsCaller") {
		t.Fatalf("fn = %q", fn)
	}
	if !strings.HasSuffix(file, "xerrors_test.go") || line == 0 {
		t.Fatalf("file:line = %s:%d", file, line)
	}
}

func TestPosOf_PlainError(t *testing.T) {
	if _, _, _, ok := PosOf(errSentinel); ok {
		t.Fatal("plain errors have no recorded position")
	}
}

// callerPC

func TestCallerPC_NonZero(t *testing.T) {
	if callerPC(0) == 0 {
		t.Fatal("callerPC(0) should be non-zero")
	}
}
