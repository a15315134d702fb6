package config

import "testing"

func TestParseMemoryToBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"1", 1},
		{"1024", 1024},
		{"1k", 1024},
		{"1m", 1048576},
		{"1g", 1073741824},
		{"2G", 2147483648},
		{"512M", 536870912},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMemoryToBytes(tt.in)
			if err != nil {
				t.Fatalf("ParseMemoryToBytes(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseMemoryToBytes(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseMemoryToBytes_Invalid(t *testing.T) {
	for _, in := range []string{"", "g", "1x", "-1", "1.5g", "1 g"} {
		if _, err := ParseMemoryToBytes(in); err == nil {
			t.Errorf("ParseMemoryToBytes(%q) succeeded, want error", in)
		}
	}
}

func TestParseVolume(t *testing.T) {
	tests := []struct {
		in      string
		want    Volume
		wantErr bool
	}{
		{in: "/host:/container", want: Volume{Host: "/host", Container: "/container"}},
		{in: "/a:/b:ro", want: Volume{Host: "/a", Container: "/b", ReadOnly: true}},
		{in: "/a:/b:rw", want: Volume{Host: "/a", Container: "/b"}},
		{in: "relative:/b", wantErr: true},
		{in: "/a:relative", wantErr: true},
		{in: "/a:/b:rx", wantErr: true},
		{in: "/a", wantErr: true},
		{in: "/a:/b:ro:extra", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVolume(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseVolume(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVolume(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseVolume(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseUser(t *testing.T) {
	tests := []struct {
		in      string
		want    User
		wantErr bool
	}{
		{in: "1000", want: User{UID: 1000, GID: -1}},
		{in: "1000:1000", want: User{UID: 1000, GID: 1000}},
		{in: "0:0", want: User{UID: 0, GID: 0}},
		{in: "root", wantErr: true},
		{in: "1000:1000:1000", wantErr: true},
		{in: "-1", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseUser(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseUser(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseUser(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseUser(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestValidName(t *testing.T) {
	valid := []string{"a", "worker", "project-a", "a_b", "A9", "0x"}
	invalid := []string{"", ".a", "a.b", "-a", "_a", "a b", "a/b"}
	for _, n := range valid {
		if !ValidName(n) {
			t.Errorf("ValidName(%q) = false, want true", n)
		}
	}
	for _, n := range invalid {
		if ValidName(n) {
			t.Errorf("ValidName(%q) = true, want false", n)
		}
	}
}
