package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fyrsmithlabs/coachd/internal/session"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// DefaultThreshold is the completeness a phase needs before the router may
// advance: every required field filled.
const DefaultThreshold = 1.0

const maxDefinitionsFileSize = 256 * 1024

// Definitions maps each working phase to its definition.
type Definitions map[session.Phase]*Definition

// Definition implements DefinitionSource.
func (d Definitions) Definition(phase session.Phase) (*Definition, bool) {
	def, ok := d[phase]
	return def, ok
}

// Validate checks every working phase has a valid definition.
func (d Definitions) Validate() error {
	for _, p := range session.Phases {
		def, ok := d[p]
		if !ok {
			return fmt.Errorf("missing definition for phase %s", p)
		}
		if def.Phase != p {
			return fmt.Errorf("definition keyed %s declares phase %s", p, def.Phase)
		}
		if err := def.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DefaultDefinitions returns the built-in coaching sequence: WHY after
// Sinek's golden circle, HOW by analogical and logical reasoning, and WHAT
// as the four Kaplan & Norton strategy map perspectives.
func DefaultDefinitions() Definitions {
	return Definitions{
		session.PhaseWhy: {
			Phase:     session.PhaseWhy,
			Title:     "Why does the business exist?",
			Threshold: DefaultThreshold,
			Fields: []Field{
				{Name: "belief", Description: "The core belief or cause the business exists to serve, beyond making money", Required: true},
				{Name: "values", Description: "The values that guide how the business behaves", Required: true},
				{Name: "purpose_statement", Description: "A one-sentence purpose statement in the form 'To ... so that ...'"},
			},
			Instructions: whyInstructions,
		},
		session.PhaseHow: {
			Phase:     session.PhaseHow,
			Title:     "How does the business deliver on its why?",
			Threshold: DefaultThreshold,
			Fields: []Field{
				{Name: "approach", Description: "The distinctive way the business turns its belief into action", Required: true},
				{Name: "differentiators", Description: "What the business does differently from alternatives customers have", Required: true},
				{Name: "guiding_principles", Description: "Principles that decide trade-offs when options conflict"},
			},
			Instructions: howInstructions,
		},
		session.PhaseWhat: {
			Phase:     session.PhaseWhat,
			Title:     "What will the business achieve?",
			Threshold: DefaultThreshold,
			Fields: []Field{
				{Name: "financial", Description: "Financial objectives and how they will be measured", Required: true},
				{Name: "customer", Description: "Customer objectives: who is served and the value they receive", Required: true},
				{Name: "internal_process", Description: "Internal processes the business must excel at", Required: true},
				{Name: "learning_growth", Description: "People, skills, systems and culture needed to improve", Required: true},
			},
			Instructions: whatInstructions,
		},
	}
}

const whyInstructions = `You are a strategy coach guiding a business owner to articulate their WHY.
Use Socratic questioning: ask one open question at a time, reflect back what you heard, and push
past products and profit toward the belief that drives the business. Do not write the answers for
the user; help them find their own words. When the user has clearly stated their belief or values,
capture them in their own words.`

const howInstructions = `You are a strategy coach helping a business owner explain HOW they bring their WHY
to life. Use analogies to other organisations and industries to spark ideas, then test each idea
with logical reasoning: does it follow from the WHY, and would a customer notice it? Ask one
question at a time and challenge vague answers with a request for a concrete example.`

const whatInstructions = `You are a strategy coach helping a business owner define WHAT they will achieve,
using the four perspectives of a strategy map: financial, customer, internal process, and learning
and growth. Work through the perspectives one at a time, link each objective back to the WHY and
HOW already agreed, and push for objectives that can be measured.`

// definitionsFile is the on-disk shape of a definitions file.
type definitionsFile struct {
	Phases []Definition `koanf:"phases" toml:"phases"`
}

// LoadDefinitions reads phase definitions from a YAML or TOML file, chosen by
// extension. Phases the file omits keep their built-in definition. Within a
// phase, an omitted title, field list or instructions come from the built-in
// definition; a phase without a threshold gets DefaultThreshold.
func LoadDefinitions(path string) (Definitions, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions: %w", err)
	}
	if info.Size() > maxDefinitionsFileSize {
		return nil, fmt.Errorf("definitions file too large: %d bytes (max %d)", info.Size(), maxDefinitionsFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions: %w", err)
	}
	return ParseDefinitions(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

// ParseDefinitions parses definitions in the given format ("yaml", "yml" or "toml").
func ParseDefinitions(data []byte, format string) (Definitions, error) {
	var file definitionsFile

	switch strings.ToLower(format) {
	case "yaml", "yml":
		k := koanf.New(".")
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing definitions: %w", err)
		}
		// Unknown keys are errors in both formats, so a misspelled
		// "required" cannot quietly turn a field optional.
		if err := k.UnmarshalWithConf("", &file, koanf.UnmarshalConf{
			DecoderConfig: &mapstructure.DecoderConfig{
				ErrorUnused:      true,
				WeaklyTypedInput: true,
			},
		}); err != nil {
			return nil, fmt.Errorf("decoding definitions: %w", err)
		}
	case "toml":
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&file)
		if err != nil {
			return nil, fmt.Errorf("parsing definitions: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in definitions: %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported definitions format %q", format)
	}

	if len(file.Phases) == 0 {
		return nil, errors.New("definitions file declares no phases")
	}

	defs := DefaultDefinitions()
	seen := map[session.Phase]bool{}
	for i := range file.Phases {
		def := file.Phases[i]
		if seen[def.Phase] {
			return nil, fmt.Errorf("phase %s defined twice", def.Phase)
		}
		seen[def.Phase] = true
		if def.Threshold == 0 {
			def.Threshold = DefaultThreshold
		}
		if builtin, ok := defs[def.Phase]; ok {
			inherit(&def, builtin)
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs[def.Phase] = &def
	}
	return defs, defs.Validate()
}

// inherit fills the parts of def the file left out from the built-in
// definition. A field list is taken whole or not at all.
func inherit(def, builtin *Definition) {
	if def.Title == "" {
		def.Title = builtin.Title
	}
	if len(def.Fields) == 0 {
		def.Fields = append([]Field(nil), builtin.Fields...)
	}
	if def.Instructions == "" {
		def.Instructions = builtin.Instructions
	}
}
