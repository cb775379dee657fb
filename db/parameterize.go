package db

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
)

// ParameterizedSQLTemplate holds an sql template with its parameter declarations
// rewritten as sqlx named parameters.
type ParameterizedSQLTemplate struct {
	Body       []byte
	Parameters []string
}

// String provides a printable representation.
func (p ParameterizedSQLTemplate) String() string {
	tpl := `
Params: %s
Body:   %s
`
	return fmt.Sprintf(tpl, strings.Join(p.Parameters, ", "), string(p.Body))
}

// regexpParam matches declarations such as
//
//	,'2025-06-01' AS Since    /* @param */
//
// extracting the `Since` parameter and replacing the sample value with the named
// parameter `:Since`. The spacing around the marker needs to be precise.
var (
	paramAtoms = []string{
		`(?:date\('[^']+'\))`,        // date('2025-06-01')
		`(?:[a-zA-Z_]\w*\([^\)]*\))`, // any_func(...)
		`(?:'[^']*')`,                // 'a string' or ''
		`(?:-?\d*\.?\d+)`,            // 123 or 1.23 or -5
		`(?:null)`,                   // null
	}

	// regexpParam is made of 4 named components. The 'value' element is built up out
	// of the non-capturing paramAtoms items.
	regexpParam = regexp.MustCompile(fmt.Sprintf(
		`(?P<value>%s)(?P<as>\s+AS\s+)(?P<param>[A-Za-z0-9_]+)(?P<end>\s+/\* @param \*/)`,
		strings.Join(paramAtoms, "|"),
	))
)

// parameterize takes an sql template with inline variable declarations, which lets a
// file declare sample values for running on the sqlite command line while also being
// usable as a prepared statement.
//
// The declarations carry an `/* @param */` marker:
//
//	WITH variables AS (
//	    SELECT
//	        '6202475063689216' AS CallID   /* @param */
//	        ,'2025-06-01' AS SyncedAt      /* @param */
//	)
//
// which is rewritten to
//
//	WITH variables AS (
//	    SELECT
//	        :CallID AS CallID
//	        ,:SyncedAt AS SyncedAt
//	)
//
// with Parameters []string{"CallID", "SyncedAt"}. A parameter may only be declared
// once.
func parameterize(tpl []byte) (*ParameterizedSQLTemplate, error) {

	matches := regexpParam.FindAllSubmatch(tpl, -1)
	if len(matches) == 0 {
		return nil, errors.New("parameterize: no parameters found")
	}

	pst := &ParameterizedSQLTemplate{
		Parameters: make([]string, len(matches)),
	}

	seen := map[string]bool{}
	paramIdx := regexpParam.SubexpIndex("param")
	for i := range matches {
		name := string(matches[i][paramIdx])
		if seen[name] {
			return nil, fmt.Errorf("parameterize: parameter %q declared more than once", name)
		}
		seen[name] = true
		pst.Parameters[i] = name
	}

	pst.Body = regexpParam.ReplaceAll(tpl, []byte(`:${param}${as}${param}`))
	return pst, nil
}

// ParameterizeFile reads an sql file and parameterizes it.
func ParameterizeFile(fileFS fs.FS, filePath string) (*ParameterizedSQLTemplate, error) {

	fileBytes, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("file read error: %w", err)
	}
	query, err := parameterize(fileBytes)
	if err != nil {
		return nil, fmt.Errorf("query template error: %w", err)
	}
	return query, nil
}
