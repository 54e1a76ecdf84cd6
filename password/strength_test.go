package password

import (
	"errors"
	"testing"
)

func TestCheckStrength(t *testing.T) {
	cases := []struct {
		secret string
		strong bool
	}{
		{"Str0ng!pw", true},
		{"Ab1_defg", true},
		{"Ab1!", false},
		{"alllower1!", false},
		{"ALLUPPER1!", false},
		{"NoDigits!!", false},
		{"NoSpecial12", false},
		{"", false},
	}
	for _, tc := range cases {
		err := CheckStrength(tc.secret)
		if tc.strong && err != nil {
			t.Fatalf("%q: unexpected error %v", tc.secret, err)
		}
		if !tc.strong && !errors.Is(err, ErrWeakSecret) {
			t.Fatalf("%q: expected ErrWeakSecret, got %v", tc.secret, err)
		}
	}
}
