package chain

import "fmt"

// ValidEnvelope reports whether raw is an object with an object-valued
// "result" key. Every supported network answers in this shape.
func ValidEnvelope(raw any) bool {
	_, ok := envelopeResult(raw)
	return ok
}

// Result returns the "result" object of a response, or ErrInvalidEnvelope.
func Result(raw any) (map[string]any, error) {
	result, ok := envelopeResult(raw)
	if !ok {
		return nil, fmt.Errorf("%w: expected object with object-valued result", ErrInvalidEnvelope)
	}
	return result, nil
}

func envelopeResult(raw any) (map[string]any, bool) {
	resp, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	result, ok := resp["result"].(map[string]any)
	return result, ok
}

// Confirmations returns ref - txHeight, clamped to zero. A nil ref yields 0.
func Confirmations(txHeight int64, ref *int64) int64 {
	if ref == nil || *ref < txHeight {
		return 0
	}
	return *ref - txHeight
}
