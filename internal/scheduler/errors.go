package scheduler

import "errors"

// Ошибки уровня сервиса. HTTP-слой мапит их в коды ответов.
var (
	// ErrRunNotFound — run с такой парой airflow-идентификаторов не найден.
	ErrRunNotFound = errors.New("dag run not found")

	// ErrInvalidStatus — статус вне закрытого множества DagRunStatus.
	ErrInvalidStatus = errors.New("invalid dag run status")

	// ErrNoLights — в каталоге нет ни одного главного светофора.
	ErrNoLights = errors.New("no main lights in catalog")
)
