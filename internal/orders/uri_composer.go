package orders

import "strings"

const CatalogBaseURLPlaceholder = "http://catalogbaseurltobereplaced"

type URIComposer struct {
	baseURL string
}

func NewURIComposer(baseURL string) *URIComposer {
	return &URIComposer{baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (c *URIComposer) ComposePicURI(uriTemplate string) string {
	return strings.ReplaceAll(uriTemplate, CatalogBaseURLPlaceholder, c.baseURL)
}
