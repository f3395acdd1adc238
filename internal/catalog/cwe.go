// internal/catalog/cwe.go
package catalog

import (
	"regexp"
	"strings"
)

// CWEEntry holds the catalog details of a single weakness.
type CWEEntry struct {
	ID   string
	Name string
}

// CWECatalog resolves CWE identifiers to their names.
type CWECatalog interface {
	Lookup(id string) (CWEEntry, bool)
}

// StaticCWECatalog is an in-memory catalog of the weaknesses scanners report most often.
type StaticCWECatalog struct {
	entries map[string]CWEEntry
}

var cweNumber = regexp.MustCompile(`^(?i:cwe)?[-_ ]?0*(\d+)$`)

// NewStaticCWECatalog returns the built-in catalog.
func NewStaticCWECatalog() *StaticCWECatalog {
	entries := []CWEEntry{
		{ID: "CWE-20", Name: "Improper Input Validation"},
		{ID: "CWE-22", Name: "Improper Limitation of a Pathname to a Restricted Directory ('Path Traversal')"},
		{ID: "CWE-77", Name: "Improper Neutralization of Special Elements used in a Command ('Command Injection')"},
		{ID: "CWE-78", Name: "Improper Neutralization of Special Elements used in an OS Command ('OS Command Injection')"},
		{ID: "CWE-79", Name: "Improper Neutralization of Input During Web Page Generation ('Cross-site Scripting')"},
		{ID: "CWE-89", Name: "Improper Neutralization of Special Elements used in an SQL Command ('SQL Injection')"},
		{ID: "CWE-94", Name: "Improper Control of Generation of Code ('Code Injection')"},
		{ID: "CWE-119", Name: "Improper Restriction of Operations within the Bounds of a Memory Buffer"},
		{ID: "CWE-200", Name: "Exposure of Sensitive Information to an Unauthorized Actor"},
		{ID: "CWE-287", Name: "Improper Authentication"},
		{ID: "CWE-295", Name: "Improper Certificate Validation"},
		{ID: "CWE-319", Name: "Cleartext Transmission of Sensitive Information"},
		{ID: "CWE-327", Name: "Use of a Broken or Risky Cryptographic Algorithm"},
		{ID: "CWE-352", Name: "Cross-Site Request Forgery (CSRF)"},
		{ID: "CWE-400", Name: "Uncontrolled Resource Consumption"},
		{ID: "CWE-416", Name: "Use After Free"},
		{ID: "CWE-434", Name: "Unrestricted Upload of File with Dangerous Type"},
		{ID: "CWE-502", Name: "Deserialization of Untrusted Data"},
		{ID: "CWE-601", Name: "URL Redirection to Untrusted Site ('Open Redirect')"},
		{ID: "CWE-611", Name: "Improper Restriction of XML External Entity Reference"},
		{ID: "CWE-639", Name: "Authorization Bypass Through User-Controlled Key"},
		{ID: "CWE-732", Name: "Incorrect Permission Assignment for Critical Resource"},
		{ID: "CWE-787", Name: "Out-of-bounds Write"},
		{ID: "CWE-798", Name: "Use of Hard-coded Credentials"},
		{ID: "CWE-862", Name: "Missing Authorization"},
		{ID: "CWE-918", Name: "Server-Side Request Forgery (SSRF)"},
		{ID: "CWE-1321", Name: "Improperly Controlled Modification of Object Prototype Attributes ('Prototype Pollution')"},
	}
	c := &StaticCWECatalog{entries: make(map[string]CWEEntry, len(entries))}
	for _, e := range entries {
		c.entries[e.ID] = e
	}
	return c
}

// NormalizeCWEID canonicalizes spellings such as "cwe-079", "CWE_79" and "79"
// to "CWE-79". Anything else is returned trimmed but otherwise untouched.
func NormalizeCWEID(id string) string {
	id = strings.TrimSpace(id)
	if m := cweNumber.FindStringSubmatch(id); m != nil {
		return "CWE-" + m[1]
	}
	return id
}

// Lookup returns the entry for id, accepting any spelling NormalizeCWEID understands.
func (c *StaticCWECatalog) Lookup(id string) (CWEEntry, bool) {
	e, ok := c.entries[NormalizeCWEID(id)]
	return e, ok
}
