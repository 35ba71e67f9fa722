package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	glob "github.com/bmatcuk/doublestar/v4"
	"github.com/google/go-containerregistry/pkg/name"
	kustomizetypes "sigs.k8s.io/kustomize/api/types"
	"sigs.k8s.io/yaml"

	zerr "zotregistry.dev/tagprune/errors"
	zlog "zotregistry.dev/tagprune/pkg/log"
)

const kustomizationPattern = "**/kustomization*"

// ImageRef is an image of the scanned registry used by a deployment manifest.
type ImageRef struct {
	Repository string // path inside the registry, without the registry host
	Tag        string
}

// Discover returns the kustomization files found under root, relative to root and sorted.
func Discover(root string) ([]string, error) {
	fsys := os.DirFS(root)

	matches, err := glob.Glob(fsys, kustomizationPattern, glob.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to search %s for kustomization files: %w", root, err)
	}

	sort.Strings(matches)

	return matches, nil
}

// ExtractReferencedTags returns the images of doc hosted on domain. The image reference is newName
// when it's set, name otherwise, and images without newTag do not reference any tag.
func ExtractReferencedTags(doc []byte, domain string) ([]ImageRef, error) {
	var kustomization kustomizetypes.Kustomization

	if err := yaml.Unmarshal(doc, &kustomization); err != nil {
		return nil, fmt.Errorf("%w: %w", zerr.ErrManifestParse, err)
	}

	refs := make([]ImageRef, 0, len(kustomization.Images))

	for idx, image := range kustomization.Images {
		if image.Name == "" && image.NewName == "" {
			return nil, fmt.Errorf("%w: image #%d has neither name nor newName", zerr.ErrManifestParse, idx)
		}

		reference := image.Name
		if image.NewName != "" {
			reference = image.NewName
		}

		host, _, found := strings.Cut(reference, "/")
		if !found || host != domain || image.NewTag == "" {
			continue
		}

		repo, err := name.NewRepository(reference)
		if err != nil {
			return nil, fmt.Errorf("%w: image #%d: %w", zerr.ErrManifestParse, idx, err)
		}

		refs = append(refs, ImageRef{Repository: repo.RepositoryStr(), Tag: image.NewTag})
	}

	return refs, nil
}

// ScanDirectory collects the tags referenced by every kustomization file under root.
// Any unreadable or invalid file fails the whole scan.
func ScanDirectory(root, domain string, log zlog.Logger) (ReferencedTags, error) {
	referenced := NewReferencedTags()

	files, err := Discover(root)
	if err != nil {
		return referenced, err
	}

	fsys := os.DirFS(root)

	for _, file := range files {
		doc, err := fs.ReadFile(fsys, file)
		if err != nil {
			return referenced, fmt.Errorf("failed to read %s: %w", path.Join(root, file), err)
		}

		refs, err := ExtractReferencedTags(doc, domain)
		if err != nil {
			return referenced, fmt.Errorf("%s: %w", path.Join(root, file), err)
		}

		for _, ref := range refs {
			referenced.Add(ref.Repository, ref.Tag)
		}

		log.Debug().Str("module", "manifest").Str("file", file).Int("images", len(refs)).
			Msg("scanned kustomization")
	}

	log.Info().Str("module", "manifest").Str("root", root).Int("files", len(files)).
		Int("referenced", referenced.Len()).Msg("collected referenced tags")

	return referenced, nil
}
