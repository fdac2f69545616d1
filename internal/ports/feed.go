package ports

import (
	"context"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// QuoteFeed entrega quotes de forma asíncrona. Gestiona su propia reconexión;
// los fallos de transporte nunca salen de aquí salvo cuando ctx termina.
type QuoteFeed interface {
	// Run bloquea publicando quotes en out hasta que ctx se cancele.
	Run(ctx context.Context, out chan<- domain.Quote) error
	// Subscribe cambia el conjunto de instrumentos seguidos.
	Subscribe(instrumentIDs []string)
}
