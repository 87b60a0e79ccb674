package driver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

type fakeManager struct {
	version string
	err     error
}

func (m *fakeManager) FindVersion(names []string) (string, error) { return m.version, m.err }
func (m *fakeManager) Install(name string) error                  { return nil }

func TestDetectVersionCascade(t *testing.T) {
	failing := Probe{Name: "failing", Detect: func() (string, error) { return "", errors.New("boom") }}
	empty := Probe{Name: "empty", Detect: func() (string, error) { return "", nil }}
	found := Probe{Name: "found", Detect: func() (string, error) { return "545.29.06", nil }}
	notReached := Probe{Name: "not reached", Detect: func() (string, error) {
		t.Error("Probe after a successful one was consulted")
		return "999", nil
	}}

	for _, tc := range []struct {
		testName string
		probes   []Probe
		expected string
	}{
		{"TestFirstWins", []Probe{found, notReached}, "545.29.06"},
		{"TestFallsThroughFailure", []Probe{failing, found}, "545.29.06"},
		{"TestFallsThroughEmpty", []Probe{empty, found}, "545.29.06"},
		{"TestExhausted", []Probe{failing, empty}, VersionUnknown},
		{"TestNoProbes", nil, VersionUnknown},
	} {
		t.Run(tc.testName, func(t *testing.T) {
			if out := DetectVersion(tc.probes); out != tc.expected {
				t.Errorf("Unexpected version: want: %s, got: %s", tc.expected, out)
			}
		})
	}
}

func TestDkmsProbe(t *testing.T) {
	treeDir := t.TempDir()
	for _, dir := range []string{"70.1", "450.10", "5.2"} {
		if err := os.MkdirAll(filepath.Join(treeDir, "nvidia", dir), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
	}

	version, err := NewDkmsProbe(treeDir).Detect()
	if err != nil {
		t.Fatalf("Failed to run DKMS probe: %v", err)
	}
	if version != "450.10" {
		t.Errorf("Unexpected version: want: 450.10, got: %s", version)
	}
}

func TestDkmsProbeMissingTree(t *testing.T) {
	version, err := NewDkmsProbe(t.TempDir()).Detect()
	if err != nil {
		t.Fatalf("Failed to run DKMS probe: %v", err)
	}
	if version != "" {
		t.Errorf("Unexpected version for missing tree: want empty, got: %s", version)
	}
}

func TestPackageProbe(t *testing.T) {
	version, err := NewPackageProbe(&fakeManager{version: "535.154.05"}).Detect()
	if err != nil {
		t.Fatalf("Failed to run package probe: %v", err)
	}
	if version != "535.154.05" {
		t.Errorf("Unexpected version: want: 535.154.05, got: %s", version)
	}

	if _, err := NewPackageProbe(&fakeManager{err: errors.New("no index")}).Detect(); err == nil {
		t.Error("Package probe with failing manager: want error, got nil")
	}
}

func TestXorgLogProbe(t *testing.T) {
	for _, tc := range []struct {
		testName string
		content  string
		expected string
	}{
		{
			"TestGLXBanner",
			"(II) Loading extension GLX\n(II) NVIDIA GLX Module  470.141.03  Thu Jun 30 18:43:48 UTC 2022\n",
			"470.141.03",
		},
		{
			"TestDriverBanner",
			"(II) NVIDIA dlloader X Driver  495.44  Fri Oct 22 06:00:55 UTC 2021\n",
			"495.44",
		},
		{
			"TestNoBanner",
			"(II) modeset(0): Initializing kms color map\n",
			"",
		},
	} {
		t.Run(tc.testName, func(t *testing.T) {
			logPath := filepath.Join(t.TempDir(), "Xorg.0.log")
			if err := os.WriteFile(logPath, []byte(tc.content), 0644); err != nil {
				t.Fatalf("Failed to create test log: %v", err)
			}
			version, err := NewXorgLogProbe(logPath).Detect()
			if err != nil {
				t.Fatalf("Failed to run Xorg log probe: %v", err)
			}
			if version != tc.expected {
				t.Errorf("Unexpected version: want: %q, got: %q", tc.expected, version)
			}
		})
	}
}

func TestXorgLogProbeMissingLog(t *testing.T) {
	if _, err := NewXorgLogProbe(filepath.Join(t.TempDir(), "Xorg.0.log")).Detect(); err == nil {
		t.Error("Xorg log probe on missing log: want error, got nil")
	}
}
