// Package config loads StoryMesh settings from the environment.
//
// Every key carries the STORYMESH_ prefix. A .env file is read first when
// present; variables already set in the environment win over it.
package config
