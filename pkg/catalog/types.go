package catalog

import (
	"encoding/json"
	"strings"
)

// SemanticType drives coercion of query-string values and cache key
// canonicalization. It is attached once per column at discovery.
type SemanticType int

const (
	Other SemanticType = iota
	String
	Integer
	Float
	Boolean
	Timestamp
)

var semanticTypeNames = [...]string{
	Other:     "other",
	String:    "string",
	Integer:   "integer",
	Float:     "float",
	Boolean:   "boolean",
	Timestamp: "timestamp",
}

func (t SemanticType) String() string {
	if t < 0 || int(t) >= len(semanticTypeNames) {
		return semanticTypeNames[Other]
	}
	return semanticTypeNames[t]
}

func (t SemanticType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *SemanticType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = Other
	for i, name := range semanticTypeNames {
		if name == s {
			*t = SemanticType(i)
			break
		}
	}
	return nil
}

var (
	integerTypes = map[string]bool{
		"smallint": true, "integer": true, "int": true, "bigint": true,
		"int2": true, "int4": true, "int8": true, "tinyint": true, "mediumint": true,
		"hugeint": true, "uhugeint": true, "ubigint": true, "uinteger": true,
		"usmallint": true, "utinyint": true, "serial": true, "bigserial": true,
		"smallserial": true, "int16": true, "int32": true, "int64": true,
		"int128": true, "int256": true, "uint8": true, "uint16": true,
		"uint32": true, "uint64": true, "uint128": true, "uint256": true,
	}
	floatTypes = map[string]bool{
		"real": true, "double": true, "double precision": true, "float": true,
		"float4": true, "float8": true, "float32": true, "float64": true,
		"numeric": true, "decimal": true, "decimal32": true, "decimal64": true,
		"decimal128": true, "decimal256": true,
	}
	booleanTypes = map[string]bool{
		"boolean": true, "bool": true,
	}
	stringTypes = map[string]bool{
		"text": true, "varchar": true, "character varying": true, "character": true,
		"char": true, "bpchar": true, "name": true, "citext": true, "string": true,
		"fixedstring": true, "tinytext": true, "mediumtext": true, "longtext": true,
		"enum": true, "enum8": true, "enum16": true, "nvarchar": true, "nchar": true,
	}
)

// ParseSemanticType classifies a driver-reported column type name such as
// "character varying", "Nullable(Int32)" or "DECIMAL(10,2)".
func ParseSemanticType(dataType string) SemanticType {
	t := strings.ToLower(strings.TrimSpace(dataType))
	for _, wrapper := range []string{"nullable(", "lowcardinality("} {
		for strings.HasPrefix(t, wrapper) && strings.HasSuffix(t, ")") {
			t = strings.TrimSpace(t[len(wrapper) : len(t)-1])
		}
	}
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.TrimSuffix(t, " unsigned")

	switch {
	case integerTypes[t]:
		return Integer
	case floatTypes[t]:
		return Float
	case booleanTypes[t]:
		return Boolean
	case stringTypes[t]:
		return String
	case t == "date", t == "date32", strings.HasPrefix(t, "timestamp"), strings.HasPrefix(t, "datetime"):
		return Timestamp
	}
	return Other
}
