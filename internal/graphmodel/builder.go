// Package graphmodel turns a batch of scanner findings into the base property
// graph: one node per distinct (label, id) and the deterministic edges that
// connect findings to what they describe. It performs no I/O.
package graphmodel

import (
	"strings"
	"time"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/catalog"
)

// Builder builds base graph payloads.
type Builder struct {
	cwe catalog.CWECatalog
}

// Option configures a Builder.
type Option func(*Builder)

// WithCWECatalog sets the catalog used to annotate Vulnerability nodes.
// A nil catalog disables annotation.
func WithCWECatalog(c catalog.CWECatalog) Option {
	return func(b *Builder) { b.cwe = c }
}

// NewBuilder returns a Builder annotating with the built-in CWE catalog unless
// configured otherwise.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{cwe: catalog.NewStaticCWECatalog()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildGraphPayload builds a payload with the default Builder.
func BuildGraphPayload(findings []schemas.Finding) schemas.GraphPayload {
	return NewBuilder().Build(findings)
}

// Build converts findings into nodes and edges. The output depends only on the
// input order and content, so repeated calls produce identical payloads.
func (b *Builder) Build(findings []schemas.Finding) schemas.GraphPayload {
	g := newGraph()
	for _, f := range findings {
		b.addFinding(g, f)
	}
	return schemas.GraphPayload{Nodes: g.nodes, Edges: g.edges}
}

func (b *Builder) addFinding(g *graph, f schemas.Finding) {
	v := f.Vulnerability
	a := f.Asset

	finding := g.node(schemas.LabelFinding, f.ID, map[string]any{
		"scanner":   f.Scanner,
		"scan_id":   f.ScanID,
		"timestamp": formatTime(f.Timestamp),
		"severity":  string(v.Severity),
		"title":     v.Title,
		"vector":    v.Vector,
	})
	scan := g.node(schemas.LabelScan, f.ScanID, map[string]any{
		"scanner": f.Scanner,
	})
	scanner := g.node(schemas.LabelScanner, f.Scanner, map[string]any{
		"name": f.Scanner,
	})

	vulnProps := map[string]any{
		"title":       v.Title,
		"severity":    string(v.Severity),
		"description": v.Description,
		"vector":      v.Vector,
		"cve_id":      v.CVEID,
		"cwe_id":      v.CWEID,
		"owasp_id":    v.OWASPID,
	}
	if b.cwe != nil && v.CWEID != "" {
		if entry, ok := b.cwe.Lookup(v.CWEID); ok {
			vulnProps["cwe_name"] = entry.Name
		}
	}
	vuln := g.node(schemas.LabelVulnerability, VulnerabilityID(v, a), vulnProps)

	asset := g.node(schemas.LabelAsset, AssetID(a), map[string]any{
		"type":       string(a.Type),
		"url":        a.URL,
		"path":       a.Path,
		"image":      a.Image,
		"registry":   a.Registry,
		"service":    a.Service,
		"cluster":    a.Cluster,
		"repository": a.Repository,
	})

	g.edge(schemas.RelReports, finding, vuln)
	g.edge(schemas.RelFoundOn, finding, asset)
	g.edge(schemas.RelGeneratedBy, finding, scanner)
	g.edge(schemas.RelPartOfScan, finding, scan)
	g.edge(schemas.RelScannedBy, scan, scanner)
	g.edge(schemas.RelAffects, vuln, asset)

	if a.Service != "" {
		service := g.node(schemas.LabelService, a.Service, map[string]any{"name": a.Service})
		g.edge(schemas.RelBelongsToService, asset, service)
		g.edge(schemas.RelImpactsService, vuln, service)
	}
	if a.Cluster != "" {
		cluster := g.node(schemas.LabelCluster, a.Cluster, map[string]any{"name": a.Cluster})
		g.edge(schemas.RelDeployedOn, asset, cluster)
	}
	if a.Registry != "" {
		registry := g.node(schemas.LabelRegistry, a.Registry, map[string]any{"name": a.Registry})
		g.edge(schemas.RelPublishedTo, asset, registry)
	}
	if a.Repository != "" {
		repo := g.node(schemas.LabelRepository, a.Repository, map[string]any{"name": a.Repository})
		g.edge(schemas.RelTrackedIn, asset, repo)
	}
	if a.Type == schemas.AssetSourceFile && a.Path != "" {
		file := g.node(schemas.LabelSourceFile, a.Path, map[string]any{"path": a.Path})
		g.edge(schemas.RelContainsFile, asset, file)
	}
	if p := f.Package; p != nil && p.Name != "" {
		pkg := g.node(schemas.LabelPackage, p.Key(), map[string]any{
			"ecosystem": p.Ecosystem,
			"name":      p.Name,
			"version":   p.Version,
		})
		g.edge(schemas.RelUsesPackage, asset, pkg)
		g.edge(schemas.RelAssociatedWith, pkg, vuln)
	}
}

// VulnerabilityID picks the first present of CVE, CWE and OWASP identifiers.
// Findings carrying none of them get a placeholder built from the asset
// type/service fallback, e.g. "vuln:web_application:unknown".
func VulnerabilityID(v schemas.Vulnerability, a schemas.Asset) string {
	for _, id := range []string{v.CVEID, v.CWEID, v.OWASPID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return "vuln:" + typeFallback(a)
}

// AssetID derives the asset key: image, then URL, then path, then a
// type/service fallback. Two findings sharing an image always share an asset.
func AssetID(a schemas.Asset) string {
	switch {
	case a.Image != "":
		return "image:" + a.Image
	case a.URL != "":
		return a.URL
	case a.Path != "":
		return "file:" + a.Path
	}
	return typeFallback(a)
}

// typeFallback composes "<asset type>:<service>", using "asset" and
// "unknown" for missing parts.
func typeFallback(a schemas.Asset) string {
	typ := string(a.Type)
	if typ == "" {
		typ = "asset"
	}
	service := a.Service
	if service == "" {
		service = "unknown"
	}
	return typ + ":" + service
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
