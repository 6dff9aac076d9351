package econ

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/api/community"
	"github.com/escrow-tf/tradeoffers/classinfo"
	"github.com/escrow-tf/tradeoffers/steamlang"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

const (
	// classInfoChunkSize is the most classes GetAssetClassInfo accepts per request.
	classInfoChunkSize    = 100
	classInfoFetchWorkers = 4
)

type GetAssetClassInfoRequest struct {
	baseUrl  string
	appId    uint32
	keys     []classinfo.Key
	language string
}

func (g GetAssetClassInfoRequest) CacheTTL() time.Duration {
	return 0
}

func (g GetAssetClassInfoRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

func (g GetAssetClassInfoRequest) Headers() (http.Header, error) {
	return nil, nil
}

func (g GetAssetClassInfoRequest) Retryable() bool {
	return true
}

func (g GetAssetClassInfoRequest) RequiresApiKey() bool {
	return true
}

func (g GetAssetClassInfoRequest) Method() string {
	return http.MethodGet
}

func (g GetAssetClassInfoRequest) Url() string {
	return fmt.Sprintf("%s/ISteamEconomy/GetAssetClassInfo/v1/", g.baseUrl)
}

func (g GetAssetClassInfoRequest) Values() (url.Values, error) {
	values := make(url.Values)
	values.Add("appid", strconv.FormatUint(uint64(g.appId), 10))
	values.Add("language", g.language)
	values.Add("class_count", strconv.Itoa(len(g.keys)))
	for i, key := range g.keys {
		values.Add(fmt.Sprintf("classid%d", i), strconv.FormatUint(key.ClassID, 10))
		values.Add(fmt.Sprintf("instanceid%d", i), strconv.FormatUint(key.InstanceID, 10))
	}
	return values, nil
}

// GetAssetClassInfoResponse keys each class by "classid" or "classid_instanceid", next to a success flag.
type GetAssetClassInfoResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

// GetAssetClassInfo fetches descriptions for classes of a single app. Classes steam does not know are
// missing from the result.
func (c *Client) GetAssetClassInfo(
	ctx context.Context,
	appID uint32,
	keys []classinfo.Key,
) (map[classinfo.Key]*classinfo.ClassInfo, error) {
	request := GetAssetClassInfoRequest{
		baseUrl:  c.BaseURL,
		appId:    appID,
		keys:     keys,
		language: c.Language,
	}
	var response GetAssetClassInfoResponse
	if err := c.Transport.Send(ctx, request, &response); err != nil {
		return nil, err
	}

	if success, ok := response.Result["success"]; !ok || strings.Trim(string(success), `"`) != "true" {
		return nil, api.NewError(api.MalformedKind, "GetAssetClassInfo", fmt.Errorf("unsuccessful result for app %d", appID))
	}

	infos := make(map[classinfo.Key]*classinfo.ClassInfo, len(keys))
	for name, raw := range response.Result {
		if name == "success" || name == "error" {
			continue
		}

		key, err := classinfo.ParseKey(strconv.FormatUint(uint64(appID), 10) + "_" + name)
		if err != nil {
			return nil, api.NewError(api.MalformedKind, "GetAssetClassInfo", err)
		}

		var description community.Description
		if err := json.Unmarshal(raw, &description); err != nil {
			return nil, api.NewError(api.MalformedKind, "GetAssetClassInfo", eris.Wrapf(err, "decoding class %s", name))
		}
		description.AppId = api.FlexUint64(key.AppID)
		description.ClassId = api.FlexUint64(key.ClassID)
		description.InstanceId = api.FlexUint64(key.InstanceID)
		infos[key] = description.ClassInfo()
	}
	return infos, nil
}

// ClassInfoFetcher satisfies classinfo.Fetcher. Keys are grouped per app and requested in chunks, several at
// a time.
type ClassInfoFetcher struct {
	Api Api
}

func (f ClassInfoFetcher) FetchClassInfos(ctx context.Context, keys []classinfo.Key) (map[classinfo.Key]*classinfo.ClassInfo, error) {
	byApp := make(map[uint32][]classinfo.Key)
	for _, key := range keys {
		byApp[key.AppID] = append(byApp[key.AppID], key)
	}

	var mu sync.Mutex
	fetched := make(map[classinfo.Key]*classinfo.ClassInfo, len(keys))

	var g errgroup.Group
	g.SetLimit(classInfoFetchWorkers)
	for appID, appKeys := range byApp {
		for start := 0; start < len(appKeys); start += classInfoChunkSize {
			chunk := appKeys[start:min(start+classInfoChunkSize, len(appKeys))]
			g.Go(func() error {
				infos, err := f.Api.GetAssetClassInfo(ctx, appID, chunk)
				if err != nil {
					return err
				}

				mu.Lock()
				defer mu.Unlock()
				for key, info := range infos {
					fetched[key] = info
				}
				return nil
			})
		}
	}

	// chunks that succeeded are kept even when another one failed
	err := g.Wait()
	return fetched, err
}

var _ classinfo.Fetcher = ClassInfoFetcher{}
