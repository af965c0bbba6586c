package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/vladislavfirsov/content-pipeline/api"
)

var httpClient = &fasthttp.Client{Name: "pipelinectl"}

// apiError is a non-2xx response decoded from the API's error body.
type apiError struct {
	Status int
	api.ErrorDTO
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

// call sends body (if any) as JSON and decodes the response into out (if any).
func call(method, path string, body, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(strings.TrimRight(addr, "/") + path)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(data)
	}

	if err := httpClient.DoTimeout(req, resp, timeout); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return fmt.Errorf("%s %s: timed out after %s", method, path, timeout)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	if status >= fasthttp.StatusBadRequest {
		e := &apiError{Status: status}
		_ = sonic.Unmarshal(resp.Body(), &e.ErrorDTO)
		return e
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	data, err := sonic.ConfigDefault.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
