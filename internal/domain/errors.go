package domain

import "errors"

var (
	// ErrUnauthenticated — представлению нужна сессия.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound — одиночный ресурс не найден.
	ErrNotFound = errors.New("not found")
	// ErrTransient — сетевой сбой или ошибка сервера, можно повторить.
	ErrTransient = errors.New("transient error")
	// ErrValidation — некорректные параметры запроса, повторять бессмысленно.
	ErrValidation = errors.New("validation error")
	// ErrForbidden — действие недоступно текущему пользователю.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict — ресурс с таким ключом уже существует.
	ErrConflict = errors.New("conflict")
)
