package extractor

import (
	"fmt"
	"path/filepath"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/SShadowS/al-call-hierarchy/internal/engine/parser/grammar"
)

// LoadLanguage verifies the AL grammar artifacts recorded in
// baseDir/manifest.toml and dlopen's the shared object, returning a
// language ready to hand to NewParser.
func LoadLanguage(baseDir string) (*sitter.Language, error) {
	issues, err := grammar.VerifyManifestAt(baseDir)
	if err != nil {
		return nil, fmt.Errorf("verify grammar manifest: %w", err)
	}
	for _, issue := range issues {
		if issue.Language == "al" {
			return nil, fmt.Errorf("al grammar artifact failed verification: %s", issue.Reason)
		}
	}

	manifest, err := grammar.LoadGrammarManifest(filepath.Join(baseDir, "manifest.toml"))
	if err != nil {
		return nil, err
	}
	for _, artifact := range manifest.Artifacts {
		if artifact.Language != "al" {
			continue
		}
		return grammar.LoadDynamic(filepath.Join(baseDir, artifact.SharedObjectPath), "al")
	}
	return nil, fmt.Errorf("no al artifact in grammar manifest")
}
