package metadata

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-version"
)

const (
	// DefaultNugetIndex is the NuGet v3 service index.
	DefaultNugetIndex = "https://api.nuget.org/v3/index.json"
	// DefaultMetadataPackage carries Windows.Win32.winmd.
	DefaultMetadataPackage = "microsoft.windows.sdk.win32metadata"
)

var errNoWinmd = errors.New("package contains no .winmd file")

// Downloader fetches metadata modules from a NuGet feed.
type Downloader struct {
	Client *http.Client
	Index  string
}

// DownloadMetadata stores the .winmd of the newest version of nugetName
// under fileName using the default feed. It returns the version fetched.
func DownloadMetadata(ctx context.Context, nugetName, fileName string) (string, error) {
	d := Downloader{Client: http.DefaultClient, Index: DefaultNugetIndex}
	return d.Download(ctx, nugetName, fileName)
}

// Download stores the .winmd of the newest version of nugetName under
// fileName and returns the version fetched.
func (d Downloader) Download(ctx context.Context, nugetName, fileName string) (string, error) {
	nugetName = strings.ToLower(nugetName)
	baseAddress, err := d.baseAddress(ctx)
	if err != nil {
		return "", err
	}

	versionsResponse, err := d.queryGet(ctx, fmt.Sprintf("%s%s/index.json", baseAddress, nugetName))
	if err != nil {
		return "", err
	}
	versions, err := parse[map[string][]string](versionsResponse)
	if err != nil {
		return "", fmt.Errorf("parse versions of %s: %w", nugetName, err)
	}
	latest, err := LatestVersion(versions["versions"])
	if err != nil {
		return "", fmt.Errorf("%s: %w", nugetName, err)
	}

	nugetBytes, err := d.queryGet(ctx, fmt.Sprintf("%s%s/%s/%s.%s.nupkg", baseAddress, nugetName, latest, nugetName, latest))
	if err != nil {
		return "", err
	}
	if err := extractWinmd(nugetBytes, fileName); err != nil {
		return "", fmt.Errorf("%s %s: %w", nugetName, latest, err)
	}
	return latest, nil
}

// LatestVersion picks the highest semantic version and returns it in its
// original spelling.
func LatestVersion(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", errors.New("no versions published")
	}
	orderedVersions := make([]*version.Version, len(candidates))
	for i, versionString := range candidates {
		v, err := version.NewVersion(versionString)
		if err != nil {
			return "", fmt.Errorf("error parsing version %q: %w", versionString, err)
		}
		orderedVersions[i] = v
	}
	sort.Sort(version.Collection(orderedVersions))
	return orderedVersions[len(orderedVersions)-1].Original(), nil
}

func extractWinmd(nugetBytes []byte, fileName string) error {
	bytesReader := bytes.NewReader(nugetBytes)
	nuget, err := zip.NewReader(bytesReader, int64(bytesReader.Len()))
	if err != nil {
		return err
	}
	for _, file := range nuget.File {
		if filepath.Ext(file.Name) != ".winmd" {
			continue
		}
		reader, err := file.Open()
		if err != nil {
			return err
		}
		metadataBytes, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return err
		}
		return os.WriteFile(fileName, metadataBytes, 0o644)
	}
	return errNoWinmd
}

func (d Downloader) baseAddress(ctx context.Context) (string, error) {
	response, err := d.queryGet(ctx, d.Index)
	if err != nil {
		return "", err
	}
	index, err := parse[nugetIndex](response)
	if err != nil {
		return "", fmt.Errorf("parse service index: %w", err)
	}

	for _, resource := range index.Resources {
		if strings.Contains(resource.Type, "PackageBaseAddress") {
			return resource.Id, nil
		}
	}
	return "", errors.New("service index has no PackageBaseAddress resource")
}

func parse[T any](source []byte) (T, error) {
	var parsedBody T
	err := json.Unmarshal(source, &parsedBody)
	return parsedBody, err
}

func (d Downloader) queryGet(ctx context.Context, url string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, response.Status)
	}
	return io.ReadAll(response.Body)
}

type nugetIndex struct {
	Resources []nugetResource `json:"resources"`
}

type nugetResource struct {
	Id   string `json:"@id"`
	Type string `json:"@type"`
}
