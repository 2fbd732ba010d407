package component

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Params carries the merged explicit and implicit parameters of one event.
//
// Explicit parameters are declared at the call site; implicit parameters are
// harvested from named input elements inside the acting element's component
// boundary. Values originating in form fields arrive as strings and are
// coerced against the handler's declared parameter shape when the handler
// was registered with a typed parameter struct.
type Params map[string]any

// Merge returns p with the entries of over layered on top. Neither input is
// modified.
func (p Params) Merge(over Params) Params {
	merged := make(Params, len(p)+len(over))
	for k, v := range p {
		merged[k] = v
	}
	for k, v := range over {
		merged[k] = v
	}
	return merged
}

// ErrCoerce is returned (wrapped) when parameters cannot be coerced into a
// handler's declared parameter shape.
var ErrCoerce = fmt.Errorf("component: parameter coercion failed")

// decodeParams coerces p into the typed parameter struct dst.
//
// Unknown keys are dropped, matching the behavior of handlers that only
// pick the parameters they declare. String values that parse as the target
// numeric or boolean kind are coerced in a second pass, so form-field
// values like "2" satisfy an int parameter.
func decodeParams(p Params, dst any) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCoerce, err)
	}
	if err = json.Unmarshal(raw, dst); err == nil {
		return nil
	}
	loose := make(Params, len(p))
	for k, v := range p {
		loose[k] = coerceScalar(v)
	}
	raw, merr := json.Marshal(loose)
	if merr != nil {
		return fmt.Errorf("%w: %v", ErrCoerce, merr)
	}
	if err = json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrCoerce, err)
	}
	return nil
}

// coerceScalar maps numeric- and boolean-looking strings to their parsed
// values. Everything else passes through unchanged.
func coerceScalar(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return v
}
