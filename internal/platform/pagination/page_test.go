package pagination

import "testing"

func TestClampPageSize(t *testing.T) {
	t.Parallel()

	cfg := PageSizeConfig{Default: 20, Max: 100}
	tests := []struct {
		value int
		want  int
	}{
		{value: 0, want: 20},
		{value: -5, want: 20},
		{value: 7, want: 7},
		{value: 500, want: 100},
	}
	for _, tc := range tests {
		if got := ClampPageSize(tc.value, cfg); got != tc.want {
			t.Fatalf("ClampPageSize(%d) = %d, want %d", tc.value, got, tc.want)
		}
	}
	if got := ClampPageSize(0, PageSizeConfig{}); got != 1 {
		t.Fatalf("ClampPageSize without config = %d, want 1", got)
	}
}

func TestOffset(t *testing.T) {
	t.Parallel()

	if got := Offset(3, 20); got != 40 {
		t.Fatalf("Offset(3, 20) = %d, want 40", got)
	}
	if got := Offset(0, 20); got != 0 {
		t.Fatalf("Offset(0, 20) = %d, want 0", got)
	}
}

func TestParsePositive(t *testing.T) {
	t.Parallel()

	if got, err := ParsePositive("", 20); err != nil || got != 20 {
		t.Fatalf("ParsePositive(empty) = %d, %v; want 20, nil", got, err)
	}
	if got, err := ParsePositive(" 3 ", 20); err != nil || got != 3 {
		t.Fatalf("ParsePositive(3) = %d, %v; want 3, nil", got, err)
	}
	for _, raw := range []string{"0", "-1", "x"} {
		if _, err := ParsePositive(raw, 20); err == nil {
			t.Fatalf("ParsePositive(%q) expected error", raw)
		}
	}
}
