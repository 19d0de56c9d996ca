package extract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Vocabulary is the word list the extractor matches against. Terms are
// matched case-insensitively on word boundaries; a plural "s"/"es" suffix is
// accepted.
type Vocabulary struct {
	// BusinessPrefixes are stripped from the start of a summary.
	BusinessPrefixes []string `yaml:"business_prefixes"`
	// PetTerms are breed and species words, English and Spanish.
	PetTerms []string `yaml:"pet_terms"`
	// ServiceTerms become the appointment's services when present.
	ServiceTerms []string `yaml:"service_terms"`
	// DefaultService is used when no service term matched.
	DefaultService string `yaml:"default_service"`
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		PetTerms: []string{
			"dog", "puppy", "cat", "kitten",
			"poodle", "shih tzu", "yorkie", "yorkshire", "schnauzer", "maltese",
			"chihuahua", "pomeranian", "labrador", "golden retriever", "golden",
			"husky", "terrier", "doodle", "goldendoodle", "bulldog", "beagle",
			"dachshund", "pug", "maltipoo", "cavalier",
			"perro", "perra", "perrito", "perrita", "cachorro", "gato", "gata", "gatito",
		},
		ServiceTerms: []string{
			"bath", "full groom", "groom", "haircut", "nail trim", "nails",
			"deshedding", "teeth cleaning",
			"baño", "corte", "uñas", "limpieza dental",
		},
		DefaultService: DefaultService,
	}
}

// LoadVocabulary reads a YAML file and layers it over DefaultVocabulary.
// Lists present in the file replace the defaults.
func LoadVocabulary(path string) (Vocabulary, error) {
	v := DefaultVocabulary()
	if path == "" {
		return v, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("read vocabulary: %w", err)
	}

	var override Vocabulary
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Vocabulary{}, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}

	if override.BusinessPrefixes != nil {
		v.BusinessPrefixes = override.BusinessPrefixes
	}
	if override.PetTerms != nil {
		v.PetTerms = override.PetTerms
	}
	if override.ServiceTerms != nil {
		v.ServiceTerms = override.ServiceTerms
	}
	if override.DefaultService != "" {
		v.DefaultService = override.DefaultService
	}
	return v, nil
}
