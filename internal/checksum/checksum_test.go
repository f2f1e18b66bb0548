package checksum

import "testing"

func TestSumStable(t *testing.T) {
	a := Sum([]byte("张三认识李四"))
	b := Sum([]byte("张三认识李四"))
	if a != b {
		t.Fatal("same content must hash the same")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if Sum([]byte("张三")) == a {
		t.Error("different content must hash differently")
	}
}

func TestStringsSeparatesParts(t *testing.T) {
	if Strings("ab", "c") == Strings("a", "bc") {
		t.Error("part boundaries must affect the digest")
	}
}
