package oauth

import (
	"fmt"
	"sort"
	"strings"
)

// DataCenter describes one regional deployment of the provider.
type DataCenter struct {
	// Name is the configuration key, e.g. "com" or "eu".
	Name string

	// AccountsURL hosts the OAuth endpoints.
	AccountsURL string

	// APIURL hosts the CRM and Books REST APIs.
	APIURL string
}

var dataCenters = map[string]DataCenter{
	"com":    {Name: "com", AccountsURL: "https://accounts.zoho.com", APIURL: "https://www.zohoapis.com"},
	"eu":     {Name: "eu", AccountsURL: "https://accounts.zoho.eu", APIURL: "https://www.zohoapis.eu"},
	"in":     {Name: "in", AccountsURL: "https://accounts.zoho.in", APIURL: "https://www.zohoapis.in"},
	"com.au": {Name: "com.au", AccountsURL: "https://accounts.zoho.com.au", APIURL: "https://www.zohoapis.com.au"},
	"jp":     {Name: "jp", AccountsURL: "https://accounts.zoho.jp", APIURL: "https://www.zohoapis.jp"},
	"ca":     {Name: "ca", AccountsURL: "https://accounts.zohocloud.ca", APIURL: "https://www.zohoapis.ca"},
	"com.cn": {Name: "com.cn", AccountsURL: "https://accounts.zoho.com.cn", APIURL: "https://www.zohoapis.com.cn"},
	"sa":     {Name: "sa", AccountsURL: "https://accounts.zoho.sa", APIURL: "https://www.zohoapis.sa"},
}

// DefaultDataCenter is used when a credential names none.
const DefaultDataCenter = "com"

// LookupDataCenter resolves a data center by name. The empty name resolves
// to DefaultDataCenter.
func LookupDataCenter(name string) (DataCenter, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultDataCenter
	}
	dc, ok := dataCenters[name]
	if !ok {
		return DataCenter{}, fmt.Errorf("unknown data center %q (known: %s)", name, strings.Join(DataCenterNames(), ", "))
	}
	return dc, nil
}

// DataCenterNames returns the known data center names, sorted.
func DataCenterNames() []string {
	names := make([]string, 0, len(dataCenters))
	for name := range dataCenters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
