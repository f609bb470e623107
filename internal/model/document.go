package model

const (
	DocumentStatusQueued     = "queued"
	DocumentStatusProcessing = "processing"
	DocumentStatusProcessed  = "processed"
	DocumentStatusError      = "error"
)

type Document struct {
	ID              string `json:"id"`
	Filename        string `json:"filename"`
	MimeType        string `json:"mime_type"`
	Status          string `json:"status"`
	ChunkCount      int    `json:"chunk_count"`
	ChunksProcessed int    `json:"chunks_processed"`
	ErrorMessage    string `json:"error_message,omitempty"`
	RawText         string `json:"-"`
	FileSize        int64  `json:"file_size"`
	Ctime           int64  `json:"ctime"`
}

type DocumentStatus struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ChunksTotal     int    `json:"chunks_total"`
	ChunksProcessed int    `json:"chunks_processed"`
	Error           string `json:"error,omitempty"`
}
