package schemas

import (
	"fmt"
	"strings"
	"time"
)

// -- Finding Schemas --

// Severity represents the severity level reported by a scanner. The values are
// uppercase to match the scanner exports this tool consumes.
type Severity string

// Constants defining the standard severity levels for findings. Anything else
// a scanner emits is carried through verbatim and ranked below LOW.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Normalize upper-cases and trims a severity so "high " and "HIGH" compare equal.
func (s Severity) Normalize() Severity {
	return Severity(strings.ToUpper(strings.TrimSpace(string(s))))
}

// Weight returns the ranking weight of a severity. Unknown severities weigh 1.
func (s Severity) Weight() float64 {
	switch s.Normalize() {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 7
	case SeverityMedium:
		return 4
	case SeverityLow:
		return 2
	default:
		return 1
	}
}

// AssetType categorizes the resource a finding was reported against.
type AssetType string

const (
	AssetContainerImage AssetType = "container_image"
	AssetWebApplication AssetType = "web_application"
	AssetAPI            AssetType = "api"
	AssetSourceFile     AssetType = "source_file"
	AssetRepository     AssetType = "repository"
	AssetHost           AssetType = "host"
	AssetService        AssetType = "service"
)

// Vulnerability describes the weakness a finding reports.
type Vulnerability struct {
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description,omitempty"`
	Vector      string   `json:"vector,omitempty"` // Attack vector (e.g., "network", "local").
	CVEID       string   `json:"cve_id,omitempty"`
	CWEID       string   `json:"cwe_id,omitempty"`
	OWASPID     string   `json:"owasp_id,omitempty"`
}

// Asset describes where a finding was observed. At least one of Image, URL or
// Path should be set so the asset resolves to a stable key.
type Asset struct {
	Type       AssetType `json:"type"`
	URL        string    `json:"url,omitempty"`
	Path       string    `json:"path,omitempty"`
	Image      string    `json:"image,omitempty"`
	Registry   string    `json:"registry,omitempty"`
	Service    string    `json:"service,omitempty"`
	Cluster    string    `json:"cluster,omitempty"`
	Repository string    `json:"repository,omitempty"`
}

// Package identifies a third-party dependency implicated by a finding.
type Package struct {
	Ecosystem string `json:"ecosystem"`
	Name      string `json:"name"`
	Version   string `json:"version"`
}

// Key returns the stable package identifier `ecosystem:name@version`.
func (p Package) Key() string {
	return fmt.Sprintf("%s:%s@%s", p.Ecosystem, p.Name, p.Version)
}

// Finding is a single scanner result. Findings are immutable inputs; one
// ingestion run processes a batch of them.
type Finding struct {
	ID            string        `json:"finding_id"`
	Scanner       string        `json:"scanner"`
	ScanID        string        `json:"scan_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Vulnerability Vulnerability `json:"vulnerability"`
	Asset         Asset         `json:"asset"`
	Package       *Package      `json:"package,omitempty"`
}

// Validate checks the scalar fields every downstream stage relies on.
func (f Finding) Validate() error {
	switch {
	case strings.TrimSpace(f.ID) == "":
		return fmt.Errorf("finding_id is required")
	case strings.TrimSpace(f.Scanner) == "":
		return fmt.Errorf("scanner is required")
	case strings.TrimSpace(f.ScanID) == "":
		return fmt.Errorf("scan_id is required")
	case f.Timestamp.IsZero():
		return fmt.Errorf("timestamp is required")
	case strings.TrimSpace(f.Vulnerability.Title) == "":
		return fmt.Errorf("vulnerability.title is required")
	case strings.TrimSpace(string(f.Asset.Type)) == "":
		return fmt.Errorf("asset.type is required")
	}
	if f.Package != nil && (f.Package.Name == "" || f.Package.Ecosystem == "") {
		return fmt.Errorf("package.ecosystem and package.name are required when package is set")
	}
	return nil
}
