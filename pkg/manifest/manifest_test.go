package manifest_test

import (
	"errors"
	"os"
	"path"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	zerr "zotregistry.dev/tagprune/errors"
	"zotregistry.dev/tagprune/pkg/log"
	"zotregistry.dev/tagprune/pkg/manifest"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()

	full := path.Join(root, name)
	if err := os.MkdirAll(path.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(full, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestExtractReferencedTags(t *testing.T) {
	Convey("newName wins over name", t, func() {
		doc := `
images:
  - name: harbor.example.com/team/image1
    newTag: v1.0
  - name: harbor.example.com/team/image2
    newName: harbor.example.com/team/image2-new
    newTag: v2.0
`
		refs, err := manifest.ExtractReferencedTags([]byte(doc), "harbor.example.com")
		So(err, ShouldBeNil)
		So(refs, ShouldResemble, []manifest.ImageRef{
			{Repository: "team/image1", Tag: "v1.0"},
			{Repository: "team/image2-new", Tag: "v2.0"},
		})
	})

	Convey("Images of other registries are ignored", t, func() {
		doc := `
images:
  - name: harbor.example.com/team/image1
    newTag: v1.0
  - name: harbor.example.com/team/image2
    newName: docker.example.ru/image2-new
    newTag: v1.0
  - name: nginx
    newTag: "1.25"
`
		refs, err := manifest.ExtractReferencedTags([]byte(doc), "harbor.example.com")
		So(err, ShouldBeNil)
		So(refs, ShouldResemble, []manifest.ImageRef{{Repository: "team/image1", Tag: "v1.0"}})
	})

	Convey("Images without newTag reference nothing", t, func() {
		refs, err := manifest.ExtractReferencedTags([]byte("images:\n  - name: harbor.example.com/a/b\n"),
			"harbor.example.com")
		So(err, ShouldBeNil)
		So(refs, ShouldBeEmpty)
	})

	Convey("Documents without images", t, func() {
		refs, err := manifest.ExtractReferencedTags([]byte("resources:\n  - deployment.yaml\n"), "harbor.example.com")
		So(err, ShouldBeNil)
		So(refs, ShouldBeEmpty)
	})

	Convey("Image without name nor newName", t, func() {
		_, err := manifest.ExtractReferencedTags([]byte("images:\n  - newTag: v1\n"), "harbor.example.com")
		So(errors.Is(err, zerr.ErrManifestParse), ShouldBeTrue)
	})

	Convey("Invalid yaml", t, func() {
		_, err := manifest.ExtractReferencedTags([]byte("images: [\n"), "harbor.example.com")
		So(errors.Is(err, zerr.ErrManifestParse), ShouldBeTrue)
	})

	Convey("Invalid repository on the scanned registry", t, func() {
		_, err := manifest.ExtractReferencedTags([]byte("images:\n  - name: harbor.example.com/Team/UPPER\n"+
			"    newTag: v1\n"), "harbor.example.com")
		So(errors.Is(err, zerr.ErrManifestParse), ShouldBeTrue)
	})
}

func TestScanDirectory(t *testing.T) {
	Convey("Kustomization files are found at any depth", t, func() {
		root := t.TempDir()

		writeFile(t, root, "kustomization.yaml", "images:\n  - name: registry.ru/library/app\n    newTag: v1\n")
		writeFile(t, root, "overlays/prod/kustomization.yml",
			"images:\n  - name: registry.ru/library/app\n    newTag: v2\n"+
				"  - name: other.io/library/app\n    newTag: v3\n")
		writeFile(t, root, "overlays/dev/kustomization",
			"images:\n  - name: registry.ru/library/web\n    newName: registry.ru/library/web\n    newTag: dev-1\n")
		writeFile(t, root, "overlays/dev/deployment.yaml", "images: [\n")

		files, err := manifest.Discover(root)
		So(err, ShouldBeNil)
		So(files, ShouldResemble, []string{
			"kustomization.yaml", "overlays/dev/kustomization", "overlays/prod/kustomization.yml",
		})

		referenced, err := manifest.ScanDirectory(root, "registry.ru", log.NewNopLogger())
		So(err, ShouldBeNil)
		So(referenced.Len(), ShouldEqual, 3)
		So(referenced.TagsFor("library/app"), ShouldResemble, []string{"v1", "v2"})
		So(referenced.Contains("library/web", "dev-1"), ShouldBeTrue)
		So(referenced.Contains("library/app", "v3"), ShouldBeFalse)
	})

	Convey("A directory named like a kustomization is not read", t, func() {
		root := t.TempDir()
		So(os.MkdirAll(path.Join(root, "kustomization.d"), 0o755), ShouldBeNil)

		files, err := manifest.Discover(root)
		So(err, ShouldBeNil)
		So(files, ShouldBeEmpty)
	})

	Convey("Any invalid file fails the scan", t, func() {
		root := t.TempDir()
		writeFile(t, root, "a/kustomization.yaml", "images:\n  - name: registry.ru/library/app\n    newTag: v1\n")
		writeFile(t, root, "b/kustomization.yaml", "images:\n  - newTag: v1\n")

		_, err := manifest.ScanDirectory(root, "registry.ru", log.NewNopLogger())
		So(errors.Is(err, zerr.ErrManifestParse), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "b/kustomization.yaml")
	})
}

func TestReferencedTags(t *testing.T) {
	Convey("Set semantics", t, func() {
		var referenced manifest.ReferencedTags

		So(referenced.Contains("a", "1"), ShouldBeFalse)
		So(referenced.TagsFor("a"), ShouldBeEmpty)

		referenced.Add("a", "2")
		referenced.Add("a", "1")
		referenced.Add("a", "1")
		referenced.Add("b", "1")

		So(referenced.Len(), ShouldEqual, 3)
		So(referenced.TagsFor("a"), ShouldResemble, []string{"1", "2"})
		So(referenced.Contains("b", "1"), ShouldBeTrue)
		So(referenced.Contains("b", "2"), ShouldBeFalse)
	})
}
