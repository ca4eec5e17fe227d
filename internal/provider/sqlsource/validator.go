package sqlsource

import (
	"fmt"
	"regexp"
	"strings"
)

// Statements every driver rejects
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bINSERT\b`),
	regexp.MustCompile(`(?i)\bUPDATE\b`),
	regexp.MustCompile(`(?i)\bDELETE\b`),
	regexp.MustCompile(`(?i)\bDROP\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\b`),
	regexp.MustCompile(`(?i)\bALTER\b`),
	regexp.MustCompile(`(?i)\bCREATE\b`),
	regexp.MustCompile(`(?i)\bGRANT\b`),
	regexp.MustCompile(`(?i)\bREVOKE\b`),
	regexp.MustCompile(`(?i)\bEXEC\b`),
	regexp.MustCompile(`(?i)\bEXECUTE\b`),
	regexp.MustCompile(`(?i)\bINTO\s+OUTFILE\b`),
	regexp.MustCompile(`(?i)\bINTO\s+DUMPFILE\b`),
	regexp.MustCompile(`(?i)\bLOAD_FILE\b`),
	regexp.MustCompile(`(?i)\bLOAD\s+DATA\b`),
	regexp.MustCompile(`(?i);\s*--`),
	regexp.MustCompile(`(?i);\s*/\*`),
}

var driverPatterns = map[string][]*regexp.Regexp{
	DriverPostgres: {
		regexp.MustCompile(`(?i)pg_read_file`),
		regexp.MustCompile(`(?i)pg_write_file`),
		regexp.MustCompile(`(?i)pg_ls_dir`),
		regexp.MustCompile(`(?i)lo_import`),
		regexp.MustCompile(`(?i)lo_export`),
		regexp.MustCompile(`(?i)\bCOPY\b`),
		regexp.MustCompile(`(?i)dblink`),
	},
	DriverMySQL: {
		regexp.MustCompile(`(?i)\bHANDLER\b`),
		regexp.MustCompile(`(?i)\bSLEEP\s*\(`),
		regexp.MustCompile(`(?i)\bBENCHMARK\s*\(`),
	},
	DriverSQLite: {
		regexp.MustCompile(`(?i)\bATTACH\b`),
		regexp.MustCompile(`(?i)\bDETACH\b`),
		regexp.MustCompile(`(?i)load_extension`),
		regexp.MustCompile(`(?i)\bPRAGMA\b`),
	},
}

// ValidateQuery checks a configured lookup query is a single read-only statement
func ValidateQuery(driver, sql string) error {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return fmt.Errorf("empty SQL query")
	}

	if strings.Count(strings.TrimSuffix(sql, ";"), ";") > 0 {
		return fmt.Errorf("multiple statements not allowed")
	}

	normalized := strings.ToUpper(sql)
	if !strings.HasPrefix(normalized, "SELECT") && !strings.HasPrefix(normalized, "WITH") {
		return fmt.Errorf("only SELECT statements allowed")
	}

	for _, pattern := range blockedPatterns {
		if pattern.MatchString(sql) {
			return fmt.Errorf("blocked SQL pattern detected: %s", pattern.String())
		}
	}
	for _, pattern := range driverPatterns[driver] {
		if pattern.MatchString(sql) {
			return fmt.Errorf("blocked SQL pattern detected: %s", pattern.String())
		}
	}

	return nil
}
