package worker

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// FunctionSpec is one function entry in a service definition declaration
// file: the metadata clients and workers load at startup to agree on what
// a service exposes, without hardcoding it in either process.
type FunctionSpec struct {
	Name              string `yaml:"name"`
	Idempotent        bool   `yaml:"idempotent"`
	Rate              *int   `yaml:"rate,omitempty"`
	CacheTTLSeconds   *int   `yaml:"cacheTtlSeconds,omitempty"`
	RetryCountOnStall int    `yaml:"retryCountOnStall,omitempty"`
	TimeoutSeconds    int    `yaml:"timeoutSeconds,omitempty"`
}

// ServiceDefFile is the on-disk shape of a service's declaration file
// (spec §6's ServiceDefinitionRepository, loaded rather than hand-entered).
type ServiceDefFile struct {
	Service   string         `yaml:"service"`
	Functions []FunctionSpec `yaml:"functions"`
}

// LoadServiceDefinitionFile reads and parses a YAML service declaration
// file from path.
func LoadServiceDefinitionFile(path string) (ServiceDefFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServiceDefFile{}, fmt.Errorf("op=servicedef.load: %w", err)
	}
	var def ServiceDefFile
	if err := yaml.Unmarshal(data, &def); err != nil {
		return ServiceDefFile{}, fmt.Errorf("op=servicedef.parse: %w", err)
	}
	return def, nil
}

// ToDomain converts the declaration file into the domain ServiceDefinition
// shape the control plane persists.
func (f ServiceDefFile) ToDomain(clusterID string) domain.ServiceDefinition {
	decls := make([]domain.FunctionDeclaration, 0, len(f.Functions))
	for _, fn := range f.Functions {
		decl := domain.FunctionDeclaration{
			Name:       fn.Name,
			Idempotent: fn.Idempotent,
			Rate:       fn.Rate,
			CacheTTL:   fn.CacheTTLSeconds,
		}
		if fn.RetryCountOnStall > 0 || fn.TimeoutSeconds > 0 {
			decl.RetryConfig = &domain.FunctionRetryConfig{
				RetryCountOnStall: fn.RetryCountOnStall,
				TimeoutSeconds:    fn.TimeoutSeconds,
			}
		}
		decls = append(decls, decl)
	}
	return domain.ServiceDefinition{
		ClusterID: clusterID,
		Service:   f.Service,
		Functions: decls,
		UpdatedAt: time.Now().UTC(),
	}
}
