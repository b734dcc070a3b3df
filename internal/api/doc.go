// Package api — HTTP API scheduler'а.
//
// Контракт ответа фиксирован внешним оркестратором: каждый ответ —
// конверт {code, msg, data}, code 0 — успех. Airflow-операторы
// проверяют именно code, а не HTTP статус, поэтому конверт
// присутствует и в ошибочных ответах.
package api
