package gatewayrpc

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

// Message keys.
const (
	keyTable   = "table"
	keyTables  = "tables"
	keyID      = "id"
	keyUserID  = "user_id"
	keyRecord  = "record"
	keyRecords = "records"
	keyType    = "type"
	keyBefore  = "before"
	keyAfter   = "after"
)

// SelectRequest filters a Select call. Empty fields do not filter.
type SelectRequest struct {
	Table  string
	ID     string
	UserID string
}

func EncodeRecord(r *models.Record) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(r.Map())
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.ID, err)
	}
	return s, nil
}

func DecodeRecord(s *structpb.Struct) (*models.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("decode record: empty message")
	}
	return models.RecordFromMap(s.AsMap())
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func EncodeSelectRequest(req SelectRequest) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		keyTable:  structpb.NewStringValue(req.Table),
		keyID:     structpb.NewStringValue(req.ID),
		keyUserID: structpb.NewStringValue(req.UserID),
	}}
}

func DecodeSelectRequest(s *structpb.Struct) SelectRequest {
	return SelectRequest{
		Table:  stringField(s, keyTable),
		ID:     stringField(s, keyID),
		UserID: stringField(s, keyUserID),
	}
}

func EncodeRecords(records []*models.Record) (*structpb.Struct, error) {
	values := make([]*structpb.Value, 0, len(records))
	for _, r := range records {
		s, err := EncodeRecord(r)
		if err != nil {
			return nil, err
		}
		values = append(values, structpb.NewStructValue(s))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		keyRecords: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}, nil
}

func DecodeRecords(s *structpb.Struct) ([]*models.Record, error) {
	values := s.GetFields()[keyRecords].GetListValue().GetValues()
	out := make([]*models.Record, 0, len(values))
	for _, v := range values {
		r, err := DecodeRecord(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func EncodeUpsertRequest(table string, r *models.Record) (*structpb.Struct, error) {
	rec, err := EncodeRecord(r)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		keyTable:  structpb.NewStringValue(table),
		keyRecord: structpb.NewStructValue(rec),
	}}, nil
}

func DecodeUpsertRequest(s *structpb.Struct) (string, *models.Record, error) {
	r, err := DecodeRecord(s.GetFields()[keyRecord].GetStructValue())
	if err != nil {
		return "", nil, err
	}
	return stringField(s, keyTable), r, nil
}

func EncodeDeleteRequest(table, id string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		keyTable: structpb.NewStringValue(table),
		keyID:    structpb.NewStringValue(id),
	}}
}

func DecodeDeleteRequest(s *structpb.Struct) (table, id string) {
	return stringField(s, keyTable), stringField(s, keyID)
}

func EncodeSubscribeRequest(tables []models.Collection) *structpb.Struct {
	values := make([]*structpb.Value, 0, len(tables))
	for _, t := range tables {
		values = append(values, structpb.NewStringValue(string(t)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		keyTables: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func DecodeSubscribeRequest(s *structpb.Struct) []string {
	var out []string
	for _, v := range s.GetFields()[keyTables].GetListValue().GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}

func EncodeEvent(ev models.ChangeEvent) (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{
		keyTable: structpb.NewStringValue(string(ev.Table)),
		keyType:  structpb.NewStringValue(string(ev.Type)),
	}
	for key, r := range map[string]*models.Record{keyBefore: ev.Before, keyAfter: ev.After} {
		if r == nil {
			continue
		}
		s, err := EncodeRecord(r)
		if err != nil {
			return nil, err
		}
		fields[key] = structpb.NewStructValue(s)
	}
	return &structpb.Struct{Fields: fields}, nil
}

func DecodeEvent(s *structpb.Struct) (models.ChangeEvent, error) {
	ev := models.ChangeEvent{
		Table: models.Collection(stringField(s, keyTable)),
		Type:  models.EventType(stringField(s, keyType)),
	}
	switch ev.Type {
	case models.EventInsert, models.EventUpdate, models.EventDelete:
	default:
		return ev, fmt.Errorf("unknown event type %q", ev.Type)
	}

	var err error
	if v := s.GetFields()[keyBefore].GetStructValue(); v != nil {
		if ev.Before, err = DecodeRecord(v); err != nil {
			return ev, err
		}
	}
	if v := s.GetFields()[keyAfter].GetStructValue(); v != nil {
		if ev.After, err = DecodeRecord(v); err != nil {
			return ev, err
		}
	}
	if ev.RecordID() == "" {
		return ev, fmt.Errorf("%s event on %s carries no record", ev.Type, ev.Table)
	}
	return ev, nil
}
