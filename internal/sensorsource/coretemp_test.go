package sensorsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeHwmon(t *testing.T, root, device, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, device)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "name"), []byte(name+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for fname, contents := range files {
		if err := os.WriteFile(filepath.Join(dir, fname), []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCPUMaxSourceReadsInputValue(t *testing.T) {
	root := t.TempDir()
	old := hwmonRoot
	hwmonRoot = root
	defer func() { hwmonRoot = old }()

	writeHwmon(t, root, "hwmon0", "coretemp", map[string]string{
		"temp2_input": "45000\n",
	})

	s := CPUMaxSource{CoreIndex: 0}
	v, ok := s.Read(context.Background())
	if !ok {
		t.Fatal("expected a reading")
	}
	if v != 45.0 {
		t.Fatalf("got %v, want 45.0", v)
	}
}

func TestCPUDeltaSourceComputesMargin(t *testing.T) {
	root := t.TempDir()
	old := hwmonRoot
	hwmonRoot = root
	defer func() { hwmonRoot = old }()

	writeHwmon(t, root, "hwmon0", "coretemp", map[string]string{
		"temp2_input": "45000\n",
		"temp2_crit":  "100000\n",
	})

	s := CPUDeltaSource{CoreIndex: 0}
	v, ok := s.Read(context.Background())
	if !ok {
		t.Fatal("expected a reading")
	}
	if v != 55.0 {
		t.Fatalf("got %v, want 55.0", v)
	}
}

func TestCPUMaxSourceAbsentWhenNoCoretempDevice(t *testing.T) {
	root := t.TempDir()
	old := hwmonRoot
	hwmonRoot = root
	defer func() { hwmonRoot = old }()

	writeHwmon(t, root, "hwmon0", "acpitz", map[string]string{"temp1_input": "30000\n"})

	s := CPUMaxSource{CoreIndex: 0}
	_, ok := s.Read(context.Background())
	if ok {
		t.Fatal("expected no reading when no coretemp device is present")
	}
}

func TestCPUMaxSourceAbsentWhenCoreFileMissing(t *testing.T) {
	root := t.TempDir()
	old := hwmonRoot
	hwmonRoot = root
	defer func() { hwmonRoot = old }()

	writeHwmon(t, root, "hwmon0", "coretemp", map[string]string{"temp2_input": "45000\n"})

	s := CPUMaxSource{CoreIndex: 5} // no temp7_input file
	_, ok := s.Read(context.Background())
	if ok {
		t.Fatal("expected no reading for a core with no sensor file")
	}
}
