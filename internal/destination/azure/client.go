package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
)

// serviceURL returns the blob endpoint of the account, with a trailing slash.
func serviceURL(c model.AzureConfig) string {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", c.Account)
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return endpoint
}

// newClient builds the blob client.
// Priority: 1) SAS  2) Service Principal  3) DefaultAzureCredential.
func newClient(c model.AzureConfig) (*azblob.Client, string, error) {
	endpoint := serviceURL(c)

	// 1) SAS
	if sasRaw := strings.TrimSpace(c.SASToken); sasRaw != "" {
		sas := strings.TrimPrefix(sasRaw, "?")
		cl, err := azblob.NewClientWithNoCredential(endpoint+"?"+sas, nil)
		return cl, "sas", err
	}

	// 2) Service Principal
	if c.ClientID != "" && c.ClientSecret != "" && c.TenantID != "" {
		cred, err := azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
		if err != nil {
			return nil, "", err
		}
		cl, err := azblob.NewClient(endpoint, cred, nil)
		return cl, "service_principal", err
	}

	// 3) Managed Identity / DefaultAzureCredential
	defCred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, "", err
	}
	cl, err := azblob.NewClient(endpoint, defCred, nil)
	return cl, "default_credential", err
}

func init() {
	destination.Register(model.DestinationAzure, func(_ context.Context, d model.Destination, opts destination.Options) (destination.Backend, error) {
		return New(*d.Azure, opts)
	})
}
