// Package memoir holds the memoir-assistant domain: the author and topic
// catalogs, the append-only archive of styled prose, the topic sequencer
// that drives the interview, and the narrative weaver.
package memoir

import (
	_ "embed"
	"fmt"

	"github.com/goccy/go-yaml"
)

//go:embed authors.yaml
var authorsYAML []byte

//go:embed topics.yaml
var topicsYAML []byte

// Author is one selectable literary persona. Immutable; loaded from the
// static catalog and selected once per session.
type Author struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	StylePrompt string `yaml:"style_prompt"`
}

// Topic is one ordered interview subject with its question-generation
// prompt template.
type Topic struct {
	Topic  string `yaml:"topic"`
	Prompt string `yaml:"prompt"`
}

var (
	authors []Author
	topics  []Topic
)

func init() {
	var ac struct {
		Authors []Author `yaml:"authors"`
	}
	if err := yaml.Unmarshal(authorsYAML, &ac); err != nil {
		panic(fmt.Sprintf("memoir: parse embedded author catalog: %v", err))
	}
	authors = ac.Authors

	var tc struct {
		Topics []Topic `yaml:"topics"`
	}
	if err := yaml.Unmarshal(topicsYAML, &tc); err != nil {
		panic(fmt.Sprintf("memoir: parse embedded topic list: %v", err))
	}
	topics = tc.Topics
}

// Authors returns the full author catalog in catalog order.
func Authors() []Author {
	out := make([]Author, len(authors))
	copy(out, authors)
	return out
}

// AuthorByID looks an author up by identity.
func AuthorByID(id string) (Author, bool) {
	for _, a := range authors {
		if a.ID == id {
			return a, true
		}
	}
	return Author{}, false
}

// Topics returns the ordered interview topic list.
func Topics() []Topic {
	out := make([]Topic, len(topics))
	copy(out, topics)
	return out
}
