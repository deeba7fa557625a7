// File: internal/kernel/territory.go
package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/polislabs/polis/internal/specs"
	"go.uber.org/zap"
)

var (
	// ErrTerritoryNotFound is returned for an unknown territory slug.
	ErrTerritoryNotFound = errors.New("kernel: territory not found")
	// ErrServiceNotFound is returned when a territory lacks the service id.
	ErrServiceNotFound = errors.New("kernel: service not found")
)

// Service is one priced offering of a territory.
type Service struct {
	ID    string `json:"id"`
	Price int64  `json:"price"`
}

// Territory is the runtime view of one loaded territory spec: a slug, the
// declaring document's version, and an ordered service menu.
type Territory struct {
	Slug     string    `json:"slug"`
	Version  string    `json:"version"`
	File     string    `json:"file,omitempty"`
	Services []Service `json:"services"`
}

// ListServices returns the service menu in declaration order.
func (t *Territory) ListServices() []Service {
	out := make([]Service, len(t.Services))
	copy(out, t.Services)
	return out
}

// GetService looks a service up by id.
func (t *Territory) GetService(id string) (Service, bool) {
	for _, svc := range t.Services {
		if svc.ID == id {
			return svc, true
		}
	}
	return Service{}, false
}

// ServiceResult is the outcome of a service request. Success reports whether
// the service was paid for and executed; a refused request carries the reason
// in Error and leaves the ledger untouched. Balance is the citizen's balance
// after the request, whichever way it went.
type ServiceResult struct {
	Territory string         `json:"territory"`
	Service   Service        `json:"service"`
	CitizenID string         `json:"citizenId"`
	Params    map[string]any `json:"params,omitempty"`
	Success   bool           `json:"success"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Balance   int64          `json:"balance"`
}

// RequestService resolves a service in a territory, debits the citizen and
// executes it. Unknown territories, services and citizens are errors;
// insufficient funds is an ordinary unsuccessful result. The debit is atomic
// with the balance check, so a request never executes unpaid.
func (k *Kernel) RequestService(ctx context.Context, slug, serviceID, citizenID string, params map[string]any) (*ServiceResult, error) {
	territory, err := k.GetTerritory(slug)
	if err != nil {
		return nil, err
	}
	svc, ok := territory.GetService(serviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrServiceNotFound, slug, serviceID)
	}

	result := &ServiceResult{
		Territory: slug,
		Service:   svc,
		CitizenID: citizenID,
		Params:    params,
	}
	paid, err := k.ledger.Spend(ctx, citizenID, svc.Price, "service:"+slug+"/"+svc.ID)
	if err != nil {
		return nil, err
	}
	balance, err := k.ledger.GetBalance(ctx, citizenID)
	if err != nil {
		return nil, err
	}
	result.Balance = balance
	if !paid {
		result.Error = fmt.Sprintf("need %d credits, have %d", svc.Price, balance)
		return result, nil
	}

	k.log.Info("Executing service",
		zap.String("territory", slug),
		zap.String("service", svc.ID),
		zap.String("citizen_id", citizenID))
	result.Success = true
	result.Result = fmt.Sprintf("%s completed successfully", svc.ID)
	return result, nil
}

func territoryFromDecls(slug, version, file string, decls []specs.ServiceDecl) *Territory {
	t := &Territory{Slug: slug, Version: version, File: file}
	for _, d := range decls {
		t.Services = append(t.Services, Service{ID: d.ID, Price: d.Price})
	}
	return t
}

// defaultTerritory is installed when discovery finds no territory specs, so
// the nation always boots with a working service economy.
func defaultTerritory() *Territory {
	return &Territory{
		Slug:    "eufm",
		Version: "1.0.0",
		Services: []Service{
			{ID: "eu-discovery", Price: 100},
			{ID: "eu-analysis", Price: 200},
			{ID: "proposal-draft", Price: 500},
		},
	}
}
