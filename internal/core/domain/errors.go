package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTemporary          = errors.New("temporary failure")
	ErrRateLimited        = errors.New("rate limited")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrUnusableInput      = errors.New("unusable input")
	ErrUnresolvedConflict = errors.New("unresolved conflict")
	ErrInvalidTransition  = errors.New("invalid queue transition")
	ErrAlreadyClaimed     = errors.New("queue item already claimed")
	ErrLeaseLost          = errors.New("queue lease lost")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsPermanent reports whether a stage failure must not be retried by the queue.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnusableInput)
}

// UserMessage renders the message shown on a queue row for a stage failure.
// Upstream details stay in the logs.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "Limite de requisições da IA atingido. Aguarde alguns instantes."
	case errors.Is(err, ErrQuotaExceeded):
		return "Créditos de IA esgotados. Adicione créditos para continuar."
	case errors.Is(err, ErrUnusableInput):
		return "Não foi possível extrair texto utilizável do arquivo."
	case errors.Is(err, ErrTemporary):
		return "Serviço temporariamente indisponível."
	case errors.Is(err, ErrNotFound):
		return "Arquivo ou registro não encontrado."
	default:
		return "Erro ao processar documento."
	}
}
