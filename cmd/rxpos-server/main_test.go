package main

import "testing"

func TestCommandTree(t *testing.T) {
	cases := []struct {
		name string
		use  string
	}{
		{"serve", serveCmd().Use},
		{"migrate", migrateCmd().Use},
		{"pharmacy", pharmacyCmd().Use},
	}
	for _, tc := range cases {
		if tc.use != tc.name {
			t.Errorf("command use = %q, want %q", tc.use, tc.name)
		}
	}
}

func TestMigrateSubcommands(t *testing.T) {
	cmd := migrateCmd()
	want := map[string]bool{"up": false, "status": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Use]; ok {
			want[sub.Use] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("migrate is missing subcommand %q", name)
		}
	}
}
