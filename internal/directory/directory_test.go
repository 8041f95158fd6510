package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestSnapshotLookups(t *testing.T) {
	s := New(DefaultBlocklist,
		[]Customer{{Name: "John Smith", PhoneNumber: "+1 (650) 555-1234"}},
		[]Agent{{Name: "Dana", Department: "Lab", ExtensionNumber: "204"}, {Name: "Sam", ExtensionNumber: "110"}},
		DefaultDepartments)

	if !s.IsBlocked("2092841212") {
		t.Error("IsBlocked(2092841212) = false")
	}
	if s.IsBlocked("6505551234") {
		t.Error("IsBlocked(6505551234) = true")
	}
	c, ok := s.Customer("6505551234")
	if !ok || c.Name != "John Smith" {
		t.Errorf("Customer() = %+v, %v", c, ok)
	}

	tests := map[string]string{"billing": "103", "scheduling": "102", "lab": "204", "general": "110"}
	for dept, want := range tests {
		if got, ok := s.Extension(dept); !ok || got != want {
			t.Errorf("Extension(%q) = %q, %v, want %q", dept, got, ok, want)
		}
	}
}

func TestGeneralMissingWithoutAgents(t *testing.T) {
	s := New(nil, nil, nil, DefaultDepartments)
	if _, ok := s.Extension("general"); ok {
		t.Error("Extension(general) should be missing")
	}
}

func TestNormalizeNumber(t *testing.T) {
	tests := map[string]string{
		"+16505551234":   "6505551234",
		"(650) 555-1234": "6505551234",
		"234567890":      "234567890",
		"":               "",
	}
	for in, want := range tests {
		if got := NormalizeNumber(in); got != want {
			t.Errorf("NormalizeNumber(%q) = %q, want %q", in, got, want)
		}
	}
}

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	customers := write(t, dir, "customers.json", `[{"name":"John Smith","phoneNumber":"6505551234"}]`)
	agents := write(t, dir, "agents.yaml", "- name: Pat\n  department: billing\n  extensionNumber: \"301\"\n")
	blocklist := write(t, dir, "blocked.yml", "- \"5550001111\"\n")

	s, err := Load(Paths{Customers: customers, Agents: agents, Blocklist: blocklist})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := s.Customer("6505551234"); !ok {
		t.Error("customer not loaded")
	}
	if ext, _ := s.Extension("billing"); ext != "301" {
		t.Errorf("Extension(billing) = %q, want agent override 301", ext)
	}
	if !s.IsBlocked("5550001111") || s.IsBlocked("2092841212") {
		t.Error("blocklist file should replace the defaults")
	}
}

func TestLoadMissingFilesAreEmpty(t *testing.T) {
	s, err := Load(Paths{Customers: filepath.Join(t.TempDir(), "nope.json")})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, c, _ := s.Counts(); c != 0 {
		t.Errorf("customers = %d, want 0", c)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	bad := write(t, dir, "customers.json", `{not json`)
	if _, err := Load(Paths{Customers: bad}); err == nil {
		t.Error("expected parse error")
	}
	txt := write(t, dir, "agents.txt", "x")
	if _, err := Load(Paths{Agents: txt}); err == nil {
		t.Error("expected unsupported type error")
	}
}

func TestLoadSpreadsheet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.xlsx")

	f := excelize.NewFile()
	rows := [][]any{
		{"Name", "Department", "Extension Number"},
		{"Alex", "scheduling", "202"},
		{"NoExt", "lab", ""},
	}
	for i, r := range rows {
		cellName, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cellName, &r); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}

	agents, err := LoadAgents(path)
	if err != nil {
		t.Fatalf("LoadAgents() error = %v", err)
	}
	if len(agents) != 1 || agents[0].ExtensionNumber != "202" || agents[0].Department != "scheduling" {
		t.Errorf("LoadAgents() = %+v", agents)
	}
}
