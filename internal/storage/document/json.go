package document

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// MarshalJSON renders the document as a JSON object in field order.
// Non-JSON types use extended forms: {"$date": ...}, {"$binary": ...},
// {"$uuid": ...}, {"$numberLong": ...}, {"$minValue": 1} and {"$maxValue": 1}.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeDocumentJSON(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalJSON renders the value as JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValueJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeDocumentJSON(buf *bytes.Buffer, d *Document) error {
	if d == nil {
		buf.WriteString("null")
		return nil
	}
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := writeValueJSON(buf, d.values[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeValueJSON(buf *bytes.Buffer, v Value) error {
	switch v.Type() {
	case TypeNull:
		buf.WriteString("null")
	case TypeMinValue:
		buf.WriteString(`{"$minValue":1}`)
	case TypeMaxValue:
		buf.WriteString(`{"$maxValue":1}`)
	case TypeInt32:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case TypeInt64:
		buf.WriteString(`{"$numberLong":"`)
		buf.WriteString(strconv.FormatInt(v.i, 10))
		buf.WriteString(`"}`)
	case TypeDouble:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			buf.WriteString(`{"$numberDouble":"`)
			buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
			buf.WriteString(`"}`)
			return nil
		}
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case TypeBoolean:
		buf.WriteString(strconv.FormatBool(v.AsBool()))
	case TypeString:
		sb, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(sb)
	case TypeDateTime:
		buf.WriteString(`{"$date":"`)
		buf.WriteString(v.AsTime().Format(time.RFC3339Nano))
		buf.WriteString(`"}`)
	case TypeBinary:
		buf.WriteString(`{"$binary":"`)
		buf.WriteString(base64.StdEncoding.EncodeToString(v.b))
		buf.WriteString(`"}`)
	case TypeUUID:
		buf.WriteString(`{"$uuid":"`)
		buf.WriteString(v.AsUUID().String())
		buf.WriteString(`"}`)
	case TypeDocument:
		return writeDocumentJSON(buf, v.d)
	case TypeArray:
		buf.WriteByte('[')
		for i, item := range v.a {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValueJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	}
	return nil
}
