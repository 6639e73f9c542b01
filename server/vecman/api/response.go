package api

import (
	"vec_server/server/vecman/service"
)

type UpdateResponse struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message"`
	ContentID string                 `json:"content_id"`
	Details   *service.UpdateDetails `json:"details,omitempty"`
}

func NewUpdateResponse(message, contentID string, details *service.UpdateDetails) UpdateResponse {
	return UpdateResponse{Status: "success", Message: message, ContentID: contentID, Details: details}
}

type SearchResponse struct {
	Status  string                 `json:"status"`
	Query   string                 `json:"query"`
	Results []service.SearchResult `json:"results"`
	Count   int                    `json:"count"`
}

func NewSearchResponse(query string, results []service.SearchResult) SearchResponse {
	return SearchResponse{Status: "success", Query: query, Results: results, Count: len(results)}
}
