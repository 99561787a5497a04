package storage

import (
	"fmt"

	"github.com/bobboyms/olap-engine/pkg/types"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// bson.go: codec de linha. Cada linha vive no KV como um documento BSON
// (nome da coluna -> valor), o que mantém o payload auto-descritivo e
// permite inspeção com tooling Mongo padrão.

// RowToBson serializa uma linha (coluna -> Value) para bytes BSON.
// A ordem das colunas é preservada (bson.D, não bson.M).
func RowToBson(cols []string, row map[string]types.Value) ([]byte, error) {
	doc := make(bson.D, 0, len(cols))
	for _, name := range cols {
		v, ok := row[name]
		if !ok || v.IsNull() {
			doc = append(doc, bson.E{Key: name, Value: nil})
			continue
		}
		switch v.Kind {
		case types.KindInteger:
			doc = append(doc, bson.E{Key: name, Value: v.Int})
		case types.KindFloat:
			doc = append(doc, bson.E{Key: name, Value: v.Float})
		case types.KindText:
			doc = append(doc, bson.E{Key: name, Value: string(v.Text)})
		case types.KindBoolean:
			doc = append(doc, bson.E{Key: name, Value: v.Bool})
		default:
			return nil, fmt.Errorf("tipo de valor não suportado no codec: %v", v.Kind)
		}
	}
	return bson.Marshal(doc)
}

// BsonToRow deserializa bytes BSON de volta para (colunas, linha)
func BsonToRow(data []byte) ([]string, map[string]types.Value, error) {
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("erro no parser nativo: %w", err)
	}

	cols := make([]string, 0, len(doc))
	row := make(map[string]types.Value, len(doc))
	for _, e := range doc {
		cols = append(cols, e.Key)
		switch v := e.Value.(type) {
		case nil:
			row[e.Key] = types.Null()
		case int32:
			row[e.Key] = types.NewInt(int64(v))
		case int64:
			row[e.Key] = types.NewInt(v)
		case float64:
			row[e.Key] = types.NewFloat(v)
		case string:
			row[e.Key] = types.NewText(v)
		case bool:
			row[e.Key] = types.NewBool(v)
		default:
			return nil, nil, fmt.Errorf("tipo BSON inesperado para coluna %q: %T", e.Key, v)
		}
	}
	return cols, row, nil
}
