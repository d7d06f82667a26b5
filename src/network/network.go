package network

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"coinwatch/src/helpers"
	"coinwatch/src/logger"
	"coinwatch/src/models"
)

type AsyncNetworkManager struct {
	Config *models.MConfig
	Client *http.Client
	Logger *logger.Entry
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MConfig, log *logger.Log) *AsyncNetworkManager {
	return &AsyncNetworkManager{
		Config: cfg,
		Logger: log.WithComponent("network"),
		Client: &http.Client{
			Timeout: time.Duration(cfg.Network.RequestTimeout) * time.Second,
		},
	}
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries and exponential backoff.
func (nm *AsyncNetworkManager) Get(urlStr string, params map[string]string) ([]byte, error) {
	reqUrl, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}

	q := reqUrl.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	reqUrl.RawQuery = q.Encode()

	finalUrl := reqUrl.String()
	attempts := nm.Config.Network.MaxRetries + 1

	res, err := helpers.RetryWithBackoff("GET "+reqUrl.Host, attempts, time.Second, func() (interface{}, error) {
		body, err := nm.doGet(finalUrl)
		if err != nil {
			nm.Logger.WithFields(logger.Fields{"url": reqUrl.Host}).
				WithError(err).Debug("request failed")
		}
		return body, err
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// -----------------------------------------------------------------------------

// doGet is one attempt: any non-200 status is an error for the retry loop.
func (nm *AsyncNetworkManager) doGet(finalUrl string) ([]byte, error) {
	req, err := http.NewRequest("GET", finalUrl, nil)
	if err != nil {
		return nil, err
	}

	if ua := nm.Config.Network.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := nm.Client.Do(req)
	if err != nil {
		return nil, err
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited by upstream (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %d", resp.StatusCode)
	}
	if readErr != nil {
		return nil, readErr
	}
	return body, nil
}
