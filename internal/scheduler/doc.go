// Package scheduler реализует жизненный цикл dag run'ов.
//
// Scheduler отвечает за:
//   - Идемпотентный триггер сбора по (airflow_dag_id, airflow_dag_run_id)
//   - Fan-out: одна команда и одно bus-сообщение на каждый главный светофор
//   - Проверку завершённости run'а по состоянию его команд
//   - Явный override статуса run'а
//   - Timeout sweep по зависшим командам
//   - Итоговую сводку с рассылкой уведомления
//
// Scheduler ничего не планирует сам: каждая операция вызывается извне
// (Airflow через HTTP API либо sweeper), состояние живёт только в store.
package scheduler
