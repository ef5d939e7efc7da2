package pool

import (
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseGroupSizes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []int
		ok   bool
	}{
		{"bracketed", "[1,1,1,1]", []int{1, 1, 1, 1}, true},
		{"plain", "2,2", []int{2, 2}, true},
		{"spaces", " 1 , 2 ", []int{1, 2}, true},
		{"empty entries skipped", "1,,2,", []int{1, 2}, true},
		{"zero allowed", "0,1", []int{0, 1}, true},
		{"empty string", "", nil, false},
		{"brackets only", "[]", nil, false},
		{"garbage", "abc", nil, false},
		{"negative", "1,-2", nil, false},
		{"too large", "1,65", nil, false},
		{"mixed garbage invalidates all", "1,abc,2", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseGroupSizes(tc.raw, zerolog.Nop())
			if ok != tc.ok {
				t.Fatalf("ok=%v want %v", ok, tc.ok)
			}
			if tc.ok && !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}
