package models

// This file serves as the central export point for all database models
// Import this package to access all model types

// All models are automatically exported from their respective files:
// - User from user.go
// - InterviewSession, SessionStatus, FeedbackStatus from session.go
// - Transcript, Role from transcript.go
// - Feedback and its JSON payload types from feedback.go
// - UsageEvent, UsageStats from usage.go

// Database schema overview:
// 1. users - owner references, accounts live in the external auth service
// 2. interview_sessions - one row per interview attempt with a frozen context snapshot
// 3. transcripts - ordered turns, unique on (session_id, sequence_number)
// 4. feedbacks - one scoring row per session holding both basic and enhanced tiers
// 5. usage_events - append-only metering log
