package foundry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// FilePurposeAssistants marks uploaded files as tool inputs, the purpose
// vector stores require.
const FilePurposeAssistants = "assistants"

// CreateVectorStore creates an empty vector store with the given name.
func (c *Client) CreateVectorStore(ctx context.Context, name string) (*VectorStore, error) {
	if name == "" {
		return nil, fmt.Errorf("foundry: vector store name is required")
	}
	body := struct {
		Name string `json:"name"`
	}{Name: name}

	var store VectorStore
	if err := c.doOpenAI(ctx, "vector_stores.create", http.MethodPost, "/vector_stores", body, &store); err != nil {
		return nil, err
	}
	c.logger.Info().Str("vector_store_id", store.ID).Str("name", name).Msg("Vector store created")
	return &store, nil
}

// GetVectorStore fetches a vector store by ID.
func (c *Client) GetVectorStore(ctx context.Context, id string) (*VectorStore, error) {
	if id == "" {
		return nil, fmt.Errorf("foundry: vector store id is required")
	}
	var store VectorStore
	if err := c.doOpenAI(ctx, "vector_stores.get", http.MethodGet, "/vector_stores/"+url.PathEscape(id), nil, &store); err != nil {
		return nil, err
	}
	return &store, nil
}

// ListVectorStores returns every vector store in the project, following
// pagination cursors.
func (c *Client) ListVectorStores(ctx context.Context) ([]VectorStore, error) {
	var stores []VectorStore
	after := ""
	for {
		path := "/vector_stores?limit=100"
		if after != "" {
			path += "&after=" + url.QueryEscape(after)
		}
		var page listEnvelope[VectorStore]
		if err := c.doOpenAI(ctx, "vector_stores.list", http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		stores = append(stores, page.Data...)
		if !page.HasMore || page.LastID == "" {
			return stores, nil
		}
		after = page.LastID
	}
}

// FindVectorStoreByName returns the first vector store with the given
// name, or ErrNotFound if none exists. Names are not unique server-side,
// so callers that need one canonical store should create through
// EnsureVectorStore only.
func (c *Client) FindVectorStoreByName(ctx context.Context, name string) (*VectorStore, error) {
	stores, err := c.ListVectorStores(ctx)
	if err != nil {
		return nil, err
	}
	for i := range stores {
		if stores[i].Name == name {
			return &stores[i], nil
		}
	}
	return nil, fmt.Errorf("vector store %q: %w", name, ErrNotFound)
}

// EnsureVectorStore returns the vector store named name, creating it when
// missing.
func (c *Client) EnsureVectorStore(ctx context.Context, name string) (*VectorStore, error) {
	store, err := c.FindVectorStoreByName(ctx, name)
	if err == nil {
		return store, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}
	return c.CreateVectorStore(ctx, name)
}

// DeleteVectorStore removes the store. Files uploaded to the project
// remain and must be deleted separately.
func (c *Client) DeleteVectorStore(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("foundry: vector store id is required")
	}
	return c.doOpenAI(ctx, "vector_stores.delete", http.MethodDelete, "/vector_stores/"+url.PathEscape(id), nil, nil)
}

// UploadFile uploads content under filename with the assistants purpose,
// returning the file record to attach to vector stores.
func (c *Client) UploadFile(ctx context.Context, filename string, content io.Reader) (*File, error) {
	if filename == "" {
		return nil, fmt.Errorf("foundry: filename is required")
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("purpose", FilePurposeAssistants); err != nil {
		return nil, fmt.Errorf("write purpose field: %w", err)
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy file content: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart form: %w", err)
	}

	resp, err := c.send(ctx, "files.upload", http.MethodPost, c.endpoint+"/openai/v1/files", buf.Bytes(), form.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var file File
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode files.upload response: %w", err)
	}

	c.logger.Debug().Str("file_id", file.ID).Str("filename", filename).Msg("File uploaded")
	return &file, nil
}

// DeleteFile removes an uploaded file from the project.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("foundry: file id is required")
	}
	return c.doOpenAI(ctx, "files.delete", http.MethodDelete, "/files/"+url.PathEscape(id), nil, nil)
}

// AttachFile adds an uploaded file to a vector store. Ingestion runs
// asynchronously; the returned record usually starts in_progress.
func (c *Client) AttachFile(ctx context.Context, vectorStoreID, fileID string) (*VectorStoreFile, error) {
	if vectorStoreID == "" || fileID == "" {
		return nil, fmt.Errorf("foundry: vector store id and file id are required")
	}
	body := struct {
		FileID string `json:"file_id"`
	}{FileID: fileID}

	var vsFile VectorStoreFile
	path := "/vector_stores/" + url.PathEscape(vectorStoreID) + "/files"
	if err := c.doOpenAI(ctx, "vector_stores.attach_file", http.MethodPost, path, body, &vsFile); err != nil {
		return nil, err
	}
	return &vsFile, nil
}

// AttachFileAndPoll attaches fileID and waits until ingestion finishes.
// A failed ingestion returns an error carrying the service's reason.
func (c *Client) AttachFileAndPoll(ctx context.Context, vectorStoreID, fileID string) (*VectorStoreFile, error) {
	vsFile, err := c.AttachFile(ctx, vectorStoreID, fileID)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.pollTimeout)
	path := "/vector_stores/" + url.PathEscape(vectorStoreID) + "/files/" + url.PathEscape(vsFile.ID)
	for vsFile.Status == FileStatusInProgress || vsFile.Status == "" {
		if time.Now().After(deadline) {
			return vsFile, fmt.Errorf("foundry: file %s still ingesting after %s", vsFile.ID, c.pollTimeout)
		}
		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return vsFile, ctx.Err()
		}

		var next VectorStoreFile
		if err := c.doOpenAI(ctx, "vector_stores.get_file", http.MethodGet, path, nil, &next); err != nil {
			return vsFile, err
		}
		vsFile = &next
	}

	if vsFile.Status != FileStatusCompleted {
		reason := vsFile.Status
		if vsFile.LastError != nil && vsFile.LastError.Message != "" {
			reason = vsFile.LastError.Message
		}
		return vsFile, fmt.Errorf("foundry: file %s ingestion failed: %s", vsFile.ID, reason)
	}

	c.logger.Debug().
		Str("vector_store_id", vectorStoreID).
		Str("file_id", vsFile.ID).
		Msg("File ingested into vector store")
	return vsFile, nil
}

// UploadFileToVectorStore uploads content and attaches it in one step,
// waiting for ingestion to finish.
func (c *Client) UploadFileToVectorStore(ctx context.Context, vectorStoreID, filename string, content io.Reader) (*VectorStoreFile, error) {
	file, err := c.UploadFile(ctx, filename, content)
	if err != nil {
		return nil, err
	}
	return c.AttachFileAndPoll(ctx, vectorStoreID, file.ID)
}

// SearchVectorStore runs a semantic query against the store. maxResults
// <= 0 uses the service default.
func (c *Client) SearchVectorStore(ctx context.Context, vectorStoreID, query string, maxResults int) ([]VectorStoreSearchResult, error) {
	if vectorStoreID == "" {
		return nil, fmt.Errorf("foundry: vector store id is required")
	}
	if query == "" {
		return nil, fmt.Errorf("foundry: search query is required")
	}

	body := struct {
		Query         string `json:"query"`
		MaxNumResults int    `json:"max_num_results,omitempty"`
	}{Query: query, MaxNumResults: maxResults}

	var page listEnvelope[VectorStoreSearchResult]
	path := "/vector_stores/" + url.PathEscape(vectorStoreID) + "/search"
	if err := c.doOpenAI(ctx, "vector_stores.search", http.MethodPost, path, body, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}
