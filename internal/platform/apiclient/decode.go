package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/louisbranch/adminhub/internal/platform/entitystore"
	apperrors "github.com/louisbranch/adminhub/internal/platform/errors"
)

// Pagination is the page window a list response reports.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// List is a decoded collection response.
type List struct {
	Items      []entitystore.Entity
	Pagination Pagination
}

// DecodeJSON decodes body into v. Numbers are kept as json.Number so numeric
// ids survive without float rounding.
func DecodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(apperrors.CodeDecode, fmt.Sprintf("decode response: %v", err), err)
	}
	return nil
}

// DecodeEntity decodes a single-entity response.
func DecodeEntity(resp *Response) (entitystore.Entity, error) {
	var entity entitystore.Entity
	if err := DecodeJSON(resp.Body, &entity); err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, apperrors.New(apperrors.CodeDecode, "decode response: expected an object")
	}
	return entity, nil
}

// DecodeList decodes either an envelope {key: [...], pagination: {...}} or a
// bare array. When the envelope lacks key, its only array field is used.
func DecodeList(resp *Response, key string) (List, error) {
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return List{}, nil
	}
	if body[0] == '[' {
		var items []entitystore.Entity
		if err := DecodeJSON(body, &items); err != nil {
			return List{}, err
		}
		return List{Items: items, Pagination: Pagination{Page: 1, Limit: len(items), Total: len(items)}}, nil
	}

	var envelope map[string]json.RawMessage
	if err := DecodeJSON(body, &envelope); err != nil {
		return List{}, err
	}
	raw, ok := envelope[key]
	if !ok {
		raw, ok = soleArray(envelope)
	}
	if !ok {
		return List{}, apperrors.New(apperrors.CodeDecode, fmt.Sprintf("decode response: missing %q collection", key))
	}

	var list List
	if err := DecodeJSON(raw, &list.Items); err != nil {
		return List{}, err
	}
	if page, ok := envelope["pagination"]; ok {
		if err := DecodeJSON(page, &list.Pagination); err != nil {
			return List{}, err
		}
	} else {
		list.Pagination = Pagination{Page: 1, Limit: len(list.Items), Total: len(list.Items)}
	}
	return list, nil
}

func soleArray(envelope map[string]json.RawMessage) (json.RawMessage, bool) {
	var found json.RawMessage
	for _, raw := range envelope {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '[' {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = trimmed
	}
	return found, found != nil
}
