package sinc

import "github.com/cwsl/gosinc/internal/protoframe"

// ParamType is the declared type of a parameter value, used by the
// project-file codec to decode JSON scalars into the right wire shape
// (spec §3 "Key/Value parameter").
type ParamType uint8

const (
	ParamTypeInt ParamType = iota
	ParamTypeFloat
	ParamTypeBool
	ParamTypeString
	ParamTypeOption
)

// KeyValue is an (optional channel-id, key-name, typed-value) triple
// (spec §3 "Key/Value parameter").
type KeyValue struct {
	HasChannelID bool
	ChannelID    int
	Key          string
	Type         ParamType

	IntVal    int64
	FloatVal  float64
	BoolVal   bool
	StringVal string
	OptionVal string
}

// Protobuf field numbers for KeyValue, matching the original schema's
// si_toro.sinc.KeyValue message layout recovered from
// original_source/.../sinc++.h field-access patterns (has_channelid,
// intval, floatval, boolval, strval, optionval).
const (
	kvFieldChannelID = 1
	kvFieldKey       = 2
	kvFieldIntVal    = 3
	kvFieldFloatVal  = 4
	kvFieldBoolVal   = 5
	kvFieldStrVal    = 6
	kvFieldOptionVal = 7
)

func encodeKeyValue(kv KeyValue) []byte {
	w := protoframe.NewWriter()
	if kv.HasChannelID {
		w.Int64(kvFieldChannelID, int64(kv.ChannelID))
	}
	w.String(kvFieldKey, kv.Key)
	switch kv.Type {
	case ParamTypeInt:
		w.Int64(kvFieldIntVal, kv.IntVal)
	case ParamTypeFloat:
		w.Double(kvFieldFloatVal, kv.FloatVal)
	case ParamTypeBool:
		w.Bool(kvFieldBoolVal, kv.BoolVal)
	case ParamTypeString:
		w.String(kvFieldStrVal, kv.StringVal)
	case ParamTypeOption:
		w.String(kvFieldOptionVal, kv.OptionVal)
	}
	return w.Bytes()
}

func decodeKeyValue(body []byte) (KeyValue, error) {
	var kv KeyValue
	r := protoframe.NewReader(body)
	for {
		f, ok, err := r.Next()
		if err != nil {
			return KeyValue{}, err
		}
		if !ok {
			break
		}
		switch f.Number {
		case kvFieldChannelID:
			kv.HasChannelID = true
			kv.ChannelID = int(f.Int64())
		case kvFieldKey:
			kv.Key = f.String()
		case kvFieldIntVal:
			kv.Type = ParamTypeInt
			kv.IntVal = f.Int64()
		case kvFieldFloatVal:
			kv.Type = ParamTypeFloat
			kv.FloatVal = f.Double()
		case kvFieldBoolVal:
			kv.Type = ParamTypeBool
			kv.BoolVal = f.Bool()
		case kvFieldStrVal:
			kv.Type = ParamTypeString
			kv.StringVal = f.String()
		case kvFieldOptionVal:
			kv.Type = ParamTypeOption
			kv.OptionVal = f.String()
		}
	}
	return kv, nil
}

// ParamDetail describes one parameter's static metadata as reported by
// list_param_details (spec §4.H step 2): its declared type and whether it's
// instrument-level (vs per-channel) and settable.
type ParamDetail struct {
	Name            string
	Type            ParamType
	InstrumentLevel bool
	Settable        bool
}

const (
	pdFieldName            = 1
	pdFieldType            = 2
	pdFieldInstrumentLevel = 3
	pdFieldSettable        = 4
)

func encodeParamDetail(pd ParamDetail) []byte {
	w := protoframe.NewWriter()
	w.String(pdFieldName, pd.Name)
	w.Int64(pdFieldType, int64(pd.Type))
	w.Bool(pdFieldInstrumentLevel, pd.InstrumentLevel)
	w.Bool(pdFieldSettable, pd.Settable)
	return w.Bytes()
}

func decodeParamDetail(body []byte) (ParamDetail, error) {
	var pd ParamDetail
	r := protoframe.NewReader(body)
	for {
		f, ok, err := r.Next()
		if err != nil {
			return ParamDetail{}, err
		}
		if !ok {
			break
		}
		switch f.Number {
		case pdFieldName:
			pd.Name = f.String()
		case pdFieldType:
			pd.Type = ParamType(f.Int64())
		case pdFieldInstrumentLevel:
			pd.InstrumentLevel = f.Bool()
		case pdFieldSettable:
			pd.Settable = f.Bool()
		}
	}
	return pd, nil
}
