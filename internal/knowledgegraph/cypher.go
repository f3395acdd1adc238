package knowledgegraph

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteIdentifier returns name as a backtick-quoted Cypher label or
// relationship type. Labels and types cannot be query parameters, so only
// plain identifiers are accepted.
func QuoteIdentifier(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid graph identifier: %q", name)
	}
	return "`" + name + "`", nil
}

func nodeUpsertQuery(label string) (string, error) {
	l, err := QuoteIdentifier(label)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`UNWIND $rows AS row
MERGE (n:%s {id: row.id})
SET n += row.props
RETURN count(n) AS written`, l), nil
}

func edgeUpsertQuery(relType, fromLabel, toLabel string) (string, error) {
	parts := make([]string, 0, 3)
	for _, id := range []string{relType, fromLabel, toLabel} {
		q, err := QuoteIdentifier(id)
		if err != nil {
			return "", err
		}
		parts = append(parts, q)
	}
	return fmt.Sprintf(`UNWIND $rows AS row
MATCH (a:%s {id: row.from})
MATCH (b:%s {id: row.to})
MERGE (a)-[r:%s]->(b)
SET r += row.props
RETURN count(r) AS written`, parts[1], parts[2], parts[0]), nil
}

func constraintQuery(label string) (string, error) {
	l, err := QuoteIdentifier(label)
	if err != nil {
		return "", err
	}
	name := "vulngraph_" + strings.ToLower(label) + "_id"
	return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE", name, l), nil
}

const ingestionRunConstraint = `CREATE CONSTRAINT vulngraph_ingestion_run_fingerprint IF NOT EXISTS FOR (r:IngestionRun) REQUIRE r.fingerprint IS UNIQUE`

const findIngestionRunQuery = `MATCH (r:IngestionRun {fingerprint: $fingerprint})
RETURN r.fingerprint AS fingerprint, r.finding_count AS finding_count,
       r.created_at AS created_at, r.last_ingested_at AS last_ingested_at
LIMIT 1`

const recordIngestionRunQuery = `MERGE (r:IngestionRun {fingerprint: $fingerprint})
ON CREATE SET r.created_at = $now
SET r.finding_count = $finding_count, r.last_ingested_at = $now
RETURN r.fingerprint AS fingerprint`

const findingContextQuery = `MATCH (f:Finding)-[:REPORTS]->(v:Vulnerability)
OPTIONAL MATCH (f)-[:FOUND_ON]->(a:Asset)
OPTIONAL MATCH (v)-[:AFFECTS]->(hit:Asset)
WITH f, v, a, count(DISTINCT hit) AS blast_radius
OPTIONAL MATCH (a)-[:BELONGS_TO_SERVICE]->(s:Service)
RETURN f.id AS finding_id, f.title AS title, f.severity AS severity,
       f.scanner AS scanner, f.scan_id AS scan_id,
       v.id AS vulnerability_id, v.cwe_name AS cwe_name,
       a.id AS asset_id, s.id AS service, blast_radius
ORDER BY finding_id
LIMIT $limit`

const agentRelationshipQuery = `MATCH (a)-[r]->(b)
WHERE r.enriched = true
RETURN type(r) AS type, labels(a)[0] AS from_label, a.id AS from_id,
       labels(b)[0] AS to_label, b.id AS to_id,
       r.provenance AS provenance, coalesce(r.rationale, r.agent_rationale) AS rationale
ORDER BY type, from_id, to_id
LIMIT $limit`

const labelCountQuery = `MATCH (n)
WHERE n.id IS NOT NULL
RETURN labels(n)[0] AS label, count(n) AS count
ORDER BY label`
