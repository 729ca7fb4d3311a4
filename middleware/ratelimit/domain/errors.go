package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable indica falha (ou timeout) do CounterStore/QuotaStore/VelocityStore.
	// Os stores embrulham o erro original com %w.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrNoPolicy = errors.New("no policy configured")
)

// ConfigurationError é fatal na carga: o processo não deve subir (e um reload
// deve ser descartado) com uma tabela inválida.
type ConfigurationError struct {
	Policy string
	Field  string
	Reason string
}

func NewConfigurationError(policy, field, reason string) *ConfigurationError {
	return &ConfigurationError{Policy: policy, Field: field, Reason: reason}
}

func (e *ConfigurationError) Error() string {
	if e.Policy == "" {
		return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration error: policy %q: %s %s", e.Policy, e.Field, e.Reason)
}

// IsConfigurationError é um atalho para errors.As.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
